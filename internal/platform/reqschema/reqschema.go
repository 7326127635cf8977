// Package reqschema validates JSON request bodies against a JSON Schema before they are decoded.
package reqschema

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"

	"kiosk-control-plane/backend/internal/platform/apierror"
)

// maxBodyBytes caps request bodies; every kiosk request is a small JSON object.
const maxBodyBytes = 64 << 10

// Schema is a compiled request schema.
type Schema struct {
	schema *gojsonschema.Schema
}

// MustCompile compiles a schema literal and panics if it is invalid. Schemas are package-level
// constants, so a failure is a programming error.
func MustCompile(schemaJSON string) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("reqschema: compile: %v", err))
	}
	return &Schema{schema: s}
}

// Validate checks body against the schema and returns every violation in one error.
func (s *Schema) Validate(body []byte) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("request validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Bind reads the request body, validates it and decodes it into dst. On failure it writes a 400
// invalid_request response and returns false.
func Bind(c *gin.Context, s *Schema, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		apierror.Abort(c, http.StatusBadRequest, apierror.CodeInvalidRequest, "failed to read request body")
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := s.Validate(body); err != nil {
		apierror.Abort(c, http.StatusBadRequest, apierror.CodeInvalidRequest, err.Error())
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		apierror.Abort(c, http.StatusBadRequest, apierror.CodeInvalidRequest, "malformed JSON")
		return false
	}
	return true
}
