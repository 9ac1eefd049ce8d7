package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	RoleWorker    = "worker"
	RoleFarmer    = "farmer"
	RoleWarehouse = "warehouse"
)

// IsEmployer reports whether the role may create and manage orders.
func IsEmployer(role string) bool {
	return role == RoleFarmer || role == RoleWarehouse
}

func IsValidRole(role string) bool {
	switch role {
	case RoleWorker, RoleFarmer, RoleWarehouse:
		return true
	default:
		return false
	}
}

type AccessClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type AccessTokenManager struct {
	signingKey []byte
	ttl        time.Duration
}

func NewAccessTokenManager(signingKey []byte, ttl time.Duration) *AccessTokenManager {
	return &AccessTokenManager{signingKey: signingKey, ttl: ttl}
}

func (m *AccessTokenManager) Generate(userID uuid.UUID, role string) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID.String(),
			Issuer:    "crewboard",
		},
		UserID: userID.String(),
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *AccessTokenManager) Validate(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if !IsValidRole(claims.Role) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
