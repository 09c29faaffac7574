package httpapi

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"salecore/internal/domain"
)

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"

	tokenIssuer = "salecore"
)

// AuthManager verifies bearer tokens issued by the session service and the
// manager PIN that guards cancellations and refunds.
type AuthManager struct {
	secret     []byte
	managerPIN string
}

type actorClaims struct {
	jwtlib.RegisteredClaims
	UserID int64  `json:"uid,omitempty"`
	Role   string `json:"role"`
}

// NewAuthManager takes the PIN either as a bcrypt hash or in plain text; plain
// PINs are hashed once here. With neither set no PIN validates.
func NewAuthManager(secret string, managerPIN string, managerPINHash string) *AuthManager {
	hash := strings.TrimSpace(managerPINHash)
	if !IsPasswordHash(hash) {
		hash = ""
		if pin := strings.TrimSpace(managerPIN); pin != "" {
			if hashed, err := hashPassword(pin); err == nil {
				hash = hashed
			}
		}
	}
	return &AuthManager{secret: []byte(secret), managerPIN: hash}
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &actorClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{ID: claims.UserID, Username: sub, Role: claims.Role}, nil
}

// IssueToken signs a token in the format ParseToken accepts. The session
// service owns login; this exists for operators and tests.
func (a *AuthManager) IssueToken(actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.Username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
		},
		UserID: actor.ID,
		Role:   actor.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !IsPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// IsPasswordHash reports whether value looks like a bcrypt hash.
func IsPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
