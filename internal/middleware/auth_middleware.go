package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

// AccessTokenCookie - имя cookie с токеном сессии
const AccessTokenCookie = "access_token"

// IdentityResolver превращает токен сессии в ID пользователя
type IdentityResolver interface {
	ResolveUser(token string) (uint, error)
}

// AuthMiddleware обеспечивает аутентификацию для защищенных маршрутов
type AuthMiddleware struct {
	identity IdentityResolver
}

// NewAuthMiddleware создает новый middleware аутентификации
func NewAuthMiddleware(identity IdentityResolver) *AuthMiddleware {
	return &AuthMiddleware{identity: identity}
}

// RequireAuth проверяет токен и кладёт user_id в контекст
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, errType := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":      "Authentication required",
				"error_type": errType,
				"reason":     "authentication_required",
			})
			return
		}

		userID, err := m.identity.ResolveUser(token)
		if err != nil {
			errType := "token_invalid"
			if errors.Is(err, apperrors.ErrExpiredToken) {
				errType = "token_expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":      "Invalid or expired token",
				"error_type": errType,
				"reason":     "authentication_required",
			})
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

// extractToken ищет токен в заголовке Authorization, затем в cookie.
// Для WebSocket, где браузер не передаёт заголовки, допускается параметр token.
func extractToken(c *gin.Context) (string, string) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", "token_format"
		}
		return parts[1], ""
	}
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie, ""
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		if token := c.Query("token"); token != "" {
			return token, ""
		}
	}
	return "", "token_missing"
}
