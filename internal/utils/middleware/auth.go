package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// AccountIDKey is the context key for the account ID.
	AccountIDKey = "account_id"
	// EmailKey is the context key for the authenticated email.
	EmailKey = "email"
)

// Claims are the JWT claims issued by the dashboard session service.
type Claims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// JWTValidator validates dashboard session tokens.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for HMAC-signed session tokens.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// ValidateToken parses and validates a token, returning its claims.
func (v *JWTValidator) ValidateToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if _, err := uuid.Parse(claims.AccountID); err != nil {
		return nil, fmt.Errorf("invalid account id claim: %w", err)
	}
	return claims, nil
}

// RequireAuth returns a middleware that requires a valid session token.
// On success it sets account_id and email in the context.
func RequireAuth(validator *JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Authorization header required",
				},
			})
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "INVALID_TOKEN",
					"message": "Invalid or expired token",
				},
			})
			return
		}

		accountID, _ := uuid.Parse(claims.AccountID)
		c.Set(AccountIDKey, accountID)
		c.Set(EmailKey, claims.Email)

		c.Next()
	}
}

// extractBearerToken extracts the bearer token from the Authorization header.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader(AuthorizationHeader)
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, BearerPrefix) {
		return strings.TrimPrefix(authHeader, BearerPrefix)
	}
	return ""
}

// GetAccountID returns the account ID from context.
// Returns uuid.Nil if not found.
func GetAccountID(c *gin.Context) uuid.UUID {
	if val, exists := c.Get(AccountIDKey); exists {
		if accountID, ok := val.(uuid.UUID); ok {
			return accountID
		}
	}
	return uuid.Nil
}

// GetEmail returns the authenticated email from context.
func GetEmail(c *gin.Context) string {
	if val, exists := c.Get(EmailKey); exists {
		if email, ok := val.(string); ok {
			return email
		}
	}
	return ""
}
