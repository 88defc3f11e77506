package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-webinar/liverelay/internal/auth"
)

func newRouter(svc *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"http://dash.local"}), Logger(zap.NewNop(), "/health"))
	r.POST("/control", JWT(svc), RequireRole(auth.RoleOperator), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextSubject))
	})
	return r
}

func do(r http.Handler, method, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/control", nil)
	req.Header.Set("Origin", "http://dash.local")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOperatorRoute(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)

	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "").Code)
	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "junk").Code)

	viewer, err := svc.Generate("v", auth.RoleViewer)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, do(r, http.MethodPost, viewer).Code)

	op, err := svc.Generate("ops", auth.RoleOperator)
	require.NoError(t, err)
	w := do(r, http.MethodPost, op)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ops", w.Body.String())
	require.Equal(t, "http://dash.local", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflight(t *testing.T) {
	w := do(newRouter(auth.NewJWTService("secret", 1)), http.MethodOptions, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}
