package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/orgware/owconnect/internal/common"
)

// Payload is the application part of a session token.
type Payload struct {
	Employee string `json:"employee"`
}

// Claims are the registered claims plus the employee reference. Every token
// gets a fresh jti so two tokens issued in the same second still differ.
type Claims struct {
	jwt.RegisteredClaims
	Payload Payload `json:"payload"`
}

// GenerateToken signs an HS256 token for employee that expires validity after now.
func GenerateToken(employee string, secretKey []byte, validity time.Duration, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Payload: Payload{Employee: employee},
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken verifies signature and expiry at now and returns the employee
// reference. Expired tokens yield common.ErrTokenExpired, anything else
// common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte, now time.Time) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", common.ErrTokenExpired
	}
	if err != nil || !token.Valid {
		return "", common.ErrInvalidToken
	}

	return claims.Payload.Employee, nil
}
