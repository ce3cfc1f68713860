package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"jewel-auction/internal/biddingerrors"
	"jewel-auction/internal/models"
)

const issuer = "jewel-auction"

// Claims carried by access tokens.
type Claims struct {
	Username string      `json:"username,omitempty"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer creates an Issuer for secret.
func NewIssuer(secret string) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: secret is required")
	}
	return &Issuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for user valid for ttl.
func (i *Issuer) Issue(user models.User, ttl time.Duration) (string, error) {
	if strings.TrimSpace(user.UserID) == "" {
		return "", fmt.Errorf("identity: %w - user id is required", biddingerrors.ErrInvalidInput)
	}
	if !validRole(user.Role) {
		return "", fmt.Errorf("identity: %w - unknown role %q", biddingerrors.ErrInvalidInput, user.Role)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("identity: %w - ttl must be positive", biddingerrors.ErrInvalidInput)
	}

	now := i.now().UTC()
	claims := Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies token and returns the identity it carries.
func (i *Issuer) Parse(token string) (models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.User{}, fmt.Errorf("identity: %w - empty token", biddingerrors.ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return i.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return models.User{}, fmt.Errorf("identity: %w - %v", biddingerrors.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || !validRole(claims.Role) {
		return models.User{}, fmt.Errorf("identity: %w - invalid claims", biddingerrors.ErrUnauthorized)
	}
	return models.User{UserID: claims.Subject, Username: claims.Username, Role: claims.Role}, nil
}

func validRole(r models.Role) bool {
	switch r {
	case models.RoleBidder, models.RoleSeller, models.RoleAdmin:
		return true
	}
	return false
}
