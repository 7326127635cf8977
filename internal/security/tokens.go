package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

const (
	tokenUseOwner  = "owner"
	tokenUseDevice = "device"
)

// OwnerClaims holds JWT claims for an owner access token issued by the identity service.
// Subject is the acting user; RoleID is the role (household, classroom, team) the user administers.
type OwnerClaims struct {
	jwt.RegisteredClaims
	Use    string `json:"use"`
	RoleID string `json:"role_id"`
}

// DeviceClaims holds JWT claims for a kiosk device token. The token only names the session;
// session liveness is always re-checked against storage.
type DeviceClaims struct {
	jwt.RegisteredClaims
	Use       string `json:"use"`
	SessionID string `json:"session_id"`
	CodeID    string `json:"code_id"`
	RoleID    string `json:"role_id"`
}

// DeviceIdentity is the validated content of a device token.
type DeviceIdentity struct {
	SessionID string
	CodeID    string
	RoleID    string
	DeviceID  string
}

// TokenProvider issues and validates JWTs using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	ownerTTL   time.Duration
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and enforced on validation. ownerTTL only applies to IssueOwner.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, ownerTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		ownerTTL:   ownerTTL,
	}
}

// IssueDevice issues a device JWT for a kiosk session. The token expires with the session.
func (p *TokenProvider) IssueDevice(sessionID, codeID, roleID, deviceID string, expiresAt time.Time) (string, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   deviceID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Use:       tokenUseDevice,
		SessionID: sessionID,
		CodeID:    codeID,
		RoleID:    roleID,
	}
	return p.sign(claims)
}

// IssueOwner issues an owner access JWT. Production owner tokens come from the identity service;
// this is used by cmd/seed and tests.
func (p *TokenProvider) IssueOwner(userID, roleID string) (string, time.Time, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt := now.Add(p.ownerTTL)
	claims := OwnerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Use:    tokenUseOwner,
		RoleID: roleID,
	}
	token, err := p.sign(claims)
	return token, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// ValidateDevice parses and validates a device token (signature, exp, iss, aud).
func (p *TokenProvider) ValidateDevice(tokenString string) (*DeviceIdentity, error) {
	claims := &DeviceClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.Use != tokenUseDevice || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return &DeviceIdentity{
		SessionID: claims.SessionID,
		CodeID:    claims.CodeID,
		RoleID:    claims.RoleID,
		DeviceID:  claims.Subject,
	}, nil
}

// ValidateOwner parses and validates an owner access token. Returns userID and roleID.
func (p *TokenProvider) ValidateOwner(tokenString string) (userID, roleID string, err error) {
	claims := &OwnerClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return "", "", err
	}
	if claims.Use != tokenUseOwner || claims.Subject == "" || claims.RoleID == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.RoleID, nil
}

func (p *TokenProvider) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
