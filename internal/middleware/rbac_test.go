package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/service"
)

func TestRequirePermission(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		claims   *service.Claims
		required []model.Permission
		want     int
	}{
		{name: "no token", required: []model.Permission{model.PermissionAttemptsRead}, want: http.StatusUnauthorized},
		{
			name:     "granted",
			claims:   &service.Claims{Permissions: []string{"attempts:read", "attempts:grade"}},
			required: []model.Permission{model.PermissionAttemptsRead, model.PermissionAttemptsGrade},
			want:     http.StatusOK,
		},
		{
			name:     "one missing",
			claims:   &service.Claims{Permissions: []string{"attempts:read"}},
			required: []model.Permission{model.PermissionAttemptsRead, model.PermissionAttemptsGrade},
			want:     http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/",
				func(c *gin.Context) {
					if tt.claims != nil {
						c.Set(ContextKeyClaims, tt.claims)
					}
				},
				RequirePermission(tt.required...),
				func(c *gin.Context) { c.Status(http.StatusOK) },
			)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
