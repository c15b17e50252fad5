package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/internal/service"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
	"github.com/noah-isme/scholarflow-api/pkg/logger"
)

type stubAuthorizer struct {
	authority *authz.Authority
	tokens    map[string]*models.WalletClaims
}

func (s *stubAuthorizer) ValidateToken(token string) (*models.WalletClaims, error) {
	claims, ok := s.tokens[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

func (s *stubAuthorizer) Authorize(claims *models.WalletClaims) (*authz.Capability, error) {
	return s.authority.Issue(claims)
}

func newAuthorizer() *stubAuthorizer {
	return &stubAuthorizer{
		authority: authz.NewAuthority([]string{"0xadmin"}, []string{"0xowner"}),
		tokens: map[string]*models.WalletClaims{
			"student": {Address: "0xstudent", Role: models.RoleStudent},
			"owner":   {Address: "0xowner", Role: models.RoleGrantOwner},
			"forged":  {Address: "0xstudent", Role: models.RoleAdmin},
		},
	}
}

func protectedRouter(roles ...models.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWT(newAuthorizer()))
	if len(roles) > 0 {
		r.Use(RequireRoles(roles...))
	}
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, Capability(c).Holder()+"|"+c.GetString(logger.ContextAddressKey))
	})
	return r
}

func call(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAttachesCapability(t *testing.T) {
	w := call(protectedRouter(), "student")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0xstudent|0xstudent", w.Body.String())
}

func TestJWTRejectsMissingAndForgedTokens(t *testing.T) {
	r := protectedRouter()
	assert.Equal(t, http.StatusUnauthorized, call(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "nope").Code)
	assert.Equal(t, http.StatusForbidden, call(r, "forged").Code)
}

func TestRequireRoles(t *testing.T) {
	r := protectedRouter(models.RoleAdmin, models.RoleGrantOwner)
	assert.Equal(t, http.StatusOK, call(r, "owner").Code)
	assert.Equal(t, http.StatusForbidden, call(r, "student").Code)
}

func TestRateLimiterReturnsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(1, 1, nil)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(logger.ContextAddressKey, "0xstudent"); c.Next() })
	r.Use(limiter.Handler())
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
		return w
	}
	assert.Equal(t, http.StatusNoContent, send().Code)
	blocked := send()
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "1", blocked.Header().Get("Retry-After"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, send().Code)

	now = now.Add(time.Hour)
	assert.Equal(t, 1, limiter.Cleanup(time.Minute))
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	assert.Nil(t, Meta(c))

	WithResponseMeta()(c)
	SetCacheHit(c, true)
	meta := Meta(c)
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
}

func requestCount(t *testing.T, metrics *service.MetricsService, path string) float64 {
	t.Helper()
	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "path" && label.GetValue() == path {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestMetricsSkipsOperationalRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics, "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/grants/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, target := range []string{"/health", "/grants/G1", "/grants/G2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	assert.Equal(t, float64(2), requestCount(t, metrics, "/grants/:id"))
	assert.Zero(t, requestCount(t, metrics, "/health"))
}
