package user

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/internal/derrors"
)

// DefaultTokenTTL is the lifetime of issued session tokens.
const DefaultTokenTTL = time.Hour

// Claims are the session token claims.
type Claims struct {
	UserID int64       `json:"userId"`
	Role   access.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 session tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens returns a token issuer signing with secret. A zero ttl uses
// DefaultTokenTTL.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("user: token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the user.
func (t *Tokens) Issue(userID int64, role access.Role) (string, error) {
	if role == "" {
		role = access.RoleUser
	}
	now := t.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	})
	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify parses a token and returns the identity it carries. Every
// failure is an unauthorized error.
func (t *Tokens) Verify(token string) (access.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return access.Identity{}, derrors.Unauthorized("token has expired")
		}
		return access.Identity{}, derrors.Unauthorized("invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID <= 0 {
		return access.Identity{}, derrors.Unauthorized("invalid token claims")
	}
	role, err := access.ParseRole(string(claims.Role))
	if err != nil {
		return access.Identity{}, derrors.Unauthorized("invalid token claims")
	}
	return access.Identity{UserID: claims.UserID, Role: role}, nil
}
