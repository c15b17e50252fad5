package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
	"github.com/noah-isme/scholarflow-api/pkg/logger"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	return c, w
}

func TestJSONEchoesCallerAddress(t *testing.T) {
	c, w := newContext()
	c.Set(logger.ContextAddressKey, "0xstudent")

	JSON(c, http.StatusOK, map[string]string{"status": "ok"}, map[string]interface{}{"cache_hit": false})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "0xstudent", env.Address)
	assert.Equal(t, false, env.Meta["cache_hit"])
	assert.Nil(t, env.Error)
}

func TestJSONOmitsAddressOnPublicRoutes(t *testing.T) {
	c, w := newContext()

	JSON(c, http.StatusOK, []string{}, nil)

	assert.NotContains(t, w.Body.String(), `"address"`)
}

func TestErrorMapsTypedAndUntypedErrors(t *testing.T) {
	c, w := newContext()
	c.Set(logger.ContextAddressKey, "0xowner")
	Error(c, appErrors.Clone(appErrors.ErrForbidden, "only the grant owner or an admin may review this application"))

	require.Equal(t, http.StatusForbidden, w.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrForbidden.Code, env.Error.Code)
	assert.Equal(t, "0xowner", env.Address)

	c, w = newContext()
	Error(c, errors.New("pq: connection reset"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}
