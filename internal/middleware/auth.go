package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/transitgo/ticketing-service/pkg/config"
	"github.com/transitgo/ticketing-service/pkg/response"
)

const (
	// IdentityKey is the context key for the authenticated identity
	IdentityKey = "auth_identity"

	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// AuthenticatedIdentity is the caller identity extracted from the access token
type AuthenticatedIdentity struct {
	UserID string
	Email  string
	Role   string
}

// IsAdmin reports whether the caller may act on other users' bookings
func (i *AuthenticatedIdentity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Auth validates the bearer token issued by the auth service and places
// the caller identity in the request context
func Auth(cfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "authorization header must be a bearer token")
			c.Abort()
			return
		}

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
		if cfg.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(cfg.Issuer))
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.Secret), nil
		}, opts...)
		if err != nil || !token.Valid {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			response.Unauthorized(c, "invalid token claims")
			c.Abort()
			return
		}

		userID, _ := claims["user_id"].(string)
		if userID == "" {
			response.Unauthorized(c, "token has no user id")
			c.Abort()
			return
		}

		email, _ := claims["email"].(string)
		role, _ := claims["role"].(string)
		if role == "" {
			role = RoleUser
		}

		c.Set(IdentityKey, &AuthenticatedIdentity{
			UserID: userID,
			Email:  email,
			Role:   role,
		})

		c.Next()
	}
}

// Identity returns the authenticated identity from context
func Identity(c *gin.Context) (*AuthenticatedIdentity, bool) {
	v, exists := c.Get(IdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := v.(*AuthenticatedIdentity)
	return identity, ok
}
