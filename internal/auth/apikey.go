package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const keyHeader = "X-API-Key"

// APIKeyMiddleware guards the kiosk API with a single shared key, taken
// from the X-API-Key header or an "Authorization: Bearer" token. An empty
// configured key disables the check entirely.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	want := []byte(apiKey)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}

		got := presentedKey(c)
		switch {
		case got == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid API key"})
		default:
			c.Next()
		}
	}
}

func presentedKey(c *gin.Context) string {
	if key := c.GetHeader(keyHeader); key != "" {
		return key
	}
	if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return bearer
	}
	return ""
}
