package reqschema

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = MustCompile(`{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"count": {"type": "integer", "minimum": 1}
	},
	"additionalProperties": false
}`)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestValidate(t *testing.T) {
	assert.NoError(t, testSchema.Validate([]byte(`{"name":"a","count":2}`)))

	err := testSchema.Validate([]byte(`{"count":0,"extra":true}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
	assert.Contains(t, err.Error(), "count")

	assert.Error(t, testSchema.Validate([]byte(`{"name":`)))
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile(`{"type":`) })
}

func bind(body string) (*httptest.ResponseRecorder, payload, bool) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var p payload
	ok := Bind(c, testSchema, &p)
	return w, p, ok
}

func TestBind(t *testing.T) {
	_, p, ok := bind(`{"name":"kiosk","count":3}`)
	require.True(t, ok)
	assert.Equal(t, payload{Name: "kiosk", Count: 3}, p)

	w, _, ok := bind(`{"name":""}`)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"invalid_request"`)

	w, _, ok = bind(``)
	assert.False(t, ok, "empty body is validated as {} and misses required fields")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
