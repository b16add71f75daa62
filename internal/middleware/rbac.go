package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
)

// RequirePermission lets the request through only when the grader token
// carries every listed permission.
func RequirePermission(required ...model.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		for _, p := range required {
			if !slices.Contains(claims.Permissions, string(p)) {
				response.AbortFail(c, http.StatusForbidden, response.ErrPermissionDenied)
				return
			}
		}
		c.Next()
	}
}
