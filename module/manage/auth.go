package manage

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lexport/chatlink/tools/security"
)

// CtxUserKey is where the middleware stores the authenticated user id.
const CtxUserKey = "authUserID"

// AuthMiddleware verifies the Bearer access token and stores its subject in
// the request context.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	opts := security.DefaultOptions(secret)
	return func(c *gin.Context) {
		token := ""
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		userID, err := security.Verify(opts, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(CtxUserKey, userID)
		c.Next()
	}
}

func authedUser(c *gin.Context) string {
	v, _ := c.Get(CtxUserKey)
	s, _ := v.(string)
	return s
}
