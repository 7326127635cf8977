// Package apierror writes the JSON error body shared by every HTTP handler.
package apierror

import (
	"github.com/gin-gonic/gin"
)

// Body is the error response shape. Code is stable and meant for clients to switch on.
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Abort writes the error and stops the handler chain.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": Body{Code: code, Message: message}})
}

// AbortWithReason is Abort with a sub-reason, e.g. why a progress value was rejected.
func AbortWithReason(c *gin.Context, status int, code, reason, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": Body{Code: code, Message: message, Reason: reason}})
}

// Common codes used across handlers.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeInvalidRequest  = "invalid_request"
	CodeInternal        = "internal"
)
