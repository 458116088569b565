package auth

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"

	apperrors "github.com/yourusername/mocktest-api/internal/pkg/errors"
)

// IdentityClaims - поля токена, выпущенного сервисом аутентификации.
// Пользователь передаётся в sub, для совместимости также в user_id.
type IdentityClaims struct {
	UserID uint   `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IdentityService проверяет токены сессии и возвращает ID пользователя.
// Аутентификация целиком на стороне внешнего сервиса, здесь только проверка подписи.
type IdentityService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIdentityService создает сервис проверки токенов (HS256)
func NewIdentityService(secret, issuer string, ttlHours int) (*IdentityService, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("identity secret must be at least 32 bytes")
	}
	if ttlHours <= 0 {
		ttlHours = 24
	}
	return &IdentityService{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    time.Duration(ttlHours) * time.Hour,
		now:    time.Now,
	}, nil
}

// ResolveUser проверяет токен и возвращает ID пользователя.
// Просроченный токен даёт ErrExpiredToken, любой другой дефект - ErrUnauthorized.
func (s *IdentityService) ResolveUser(tokenString string) (uint, error) {
	if tokenString == "" {
		return 0, apperrors.ErrUnauthorized
	}

	claims := &IdentityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			switch {
			case ve.Errors&jwt.ValidationErrorExpired != 0:
				return 0, apperrors.ErrExpiredToken
			case ve.Errors&jwt.ValidationErrorMalformed != 0:
				log.Printf("[JWT] Ошибка: Токен имеет неверный формат")
			case ve.Errors&jwt.ValidationErrorSignatureInvalid != 0:
				log.Printf("[JWT] Ошибка: Неверная подпись токена")
			}
		}
		return 0, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if !token.Valid {
		return 0, apperrors.ErrUnauthorized
	}
	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return 0, fmt.Errorf("%w: unexpected issuer %q", apperrors.ErrUnauthorized, claims.Issuer)
	}

	userID := claims.UserID
	if userID == 0 && claims.Subject != "" {
		id, err := strconv.ParseUint(claims.Subject, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: subject is not a user id", apperrors.ErrUnauthorized)
		}
		userID = uint(id)
	}
	if userID == 0 {
		return 0, fmt.Errorf("%w: token has no user", apperrors.ErrUnauthorized)
	}
	return userID, nil
}

// GenerateToken выпускает токен для пользователя. Используется в тестах
// и локальной разработке вместо сервиса аутентификации.
func (s *IdentityService) GenerateToken(userID uint, email string) (string, error) {
	now := s.now()
	claims := IdentityClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
