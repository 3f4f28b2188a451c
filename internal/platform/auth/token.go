package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odontoclinic/clinic/internal/domain/odontology"
)

// IssueToken signs an HS256 access token for u, accepted by JWTMiddleware
// configured with the same key. It is meant for CLI use against a clinic
// running with a shared secret.
func IssueToken(key []byte, issuer string, u odontology.User, clinicID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ClinicID: clinicID,
		Name:     u.Name,
		Roles:    []string{string(u.Role)},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
