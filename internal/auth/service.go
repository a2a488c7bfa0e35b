package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campuswell/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified caller bound to a request or connection.
type Identity struct {
	UserID         string
	Role           models.Role
	AgeBracket     models.AgeBracket
	ConsentMinorOK bool
	DisplayName    string
}

// Claims is the JWT payload shared with the account service that issues tokens.
type Claims struct {
	ID             string            `json:"id"`
	Role           models.Role       `json:"role"`
	AgeBracket     models.AgeBracket `json:"ageBracket,omitempty"`
	ConsentMinorOK bool              `json:"consentMinorOk"`
	DisplayName    string            `json:"displayName,omitempty"`
	jwt.RegisteredClaims
}

// Service verifies HS256 bearer tokens.
type Service struct {
	secret     []byte
	issuer     string
	tokenTTL   time.Duration
	cookieName string
	headerName string
}

// NewService constructs an auth service with the supplied token lifetime.
func NewService(secret, issuer string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		secret:     []byte(secret),
		issuer:     issuer,
		tokenTTL:   ttl,
		cookieName: "auth_token",
		headerName: "Authorization",
	}
}

// IssueToken signs a token for user. Accounts are owned elsewhere; this is
// used by dev tooling and tests.
func (s *Service) IssueToken(user *models.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("invalid user")
	}
	now := time.Now()
	claims := Claims{
		ID:             user.ID,
		Role:           user.Role,
		AgeBracket:     user.AgeBracket,
		ConsentMinorOK: user.ConsentMinorOK,
		DisplayName:    user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// VerifyToken parses token and returns the identity it carries.
func (s *Service) VerifyToken(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	role := claims.Role
	if role == "" {
		role = models.RoleStudent
	}
	return &Identity{
		UserID:         claims.ID,
		Role:           role,
		AgeBracket:     claims.AgeBracket,
		ConsentMinorOK: claims.ConsentMinorOK,
		DisplayName:    claims.DisplayName,
	}, nil
}
