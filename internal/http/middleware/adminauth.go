// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the admin authentication gate for back-office routes.
// Identity is a shared secret conveyed via the X-Admin-Token header; the
// surrounding deployment is expected to sit behind a trusted ingress, so no
// per-operator identity is modeled here.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderAdminToken is the request header carrying the admin shared secret.
const HeaderAdminToken = "X-Admin-Token"

// AdminAuth returns a middleware that rejects requests whose X-Admin-Token
// header does not match the configured secret. Comparison is constant-time.
// An empty configured token disables the admin surface entirely (every
// request is rejected), so an unset ADMIN_TOKEN can never mean open access.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderAdminToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthorized",
				"message": "missing or invalid admin token",
			})
			return
		}
		c.Next()
	}
}
