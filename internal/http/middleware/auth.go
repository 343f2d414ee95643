package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenVerifier resolves a bearer token to a principal ID.
// *auth.TokenIssuer implements it.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// RequireAuth rejects requests without a valid "Authorization: Bearer"
// token and stores the principal ID under UserIDKey.
func RequireAuth(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(raw, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			unauthorized(c, "missing bearer token")
			return
		}
		sub, err := v.Verify(token)
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("token rejected")
			unauthorized(c, "invalid or expired token")
			return
		}
		c.Set(UserIDKey, sub)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="contest-notifier"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": asString(c.Value(requestIDKey)),
		"code":       "unauthorized",
		"message":    msg,
	})
}
