package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// claimsContextKey — ключ claims в контексте gin.
const claimsContextKey = "auth_claims"

// Middleware проверяет заголовок Authorization и кладёт claims в контекст.
func Middleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := verifier.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// Require возвращает middleware, пропускающий только пользователей
// с указанной возможностью.
func Require(capability Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if !claims.Can(capability) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

// FromContext достаёт claims, положенные Middleware.
func FromContext(c *gin.Context) (Claims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := value.(Claims)
	return claims, ok
}
