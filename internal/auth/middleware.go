package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"tritex/internal/apperr"
)

// Context keys set by the middleware.
const (
	ContextKeyUserID   = "user_id"
	ContextKeyUsername = "username"
	ContextKeyClaims   = "user_claims"
)

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the token query parameter for WebSocket upgrades.
func TokenFromRequest(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

// Middleware authenticates every request on the group and stores the
// identity in the gin context.
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c)
		if token == "" {
			abortAuth(c, apperr.New(apperr.KindAuthRequired, "authentication required"))
			return
		}
		claims, err := jwtManager.Validate(token)
		if err != nil {
			abortAuth(c, err)
			return
		}
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// UserID returns the authenticated principal id, empty when anonymous.
func UserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetClaims returns the full identity claims, nil when anonymous.
func GetClaims(c *gin.Context) *UserClaims {
	v, ok := c.Get(ContextKeyClaims)
	if !ok {
		return nil
	}
	claims, ok := v.(*UserClaims)
	if !ok {
		return nil
	}
	return claims
}

func abortAuth(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
}
