package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmerrifield20/SubzoneRegistry/internal/registry/model"
)

// Claims are the identity provider's token claims. The subject is taken
// from "sub", falling back to "user_id".
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Admin  bool   `json:"admin,omitempty"`
}

// Verifier validates bearer tokens.
type Verifier struct {
	secret      []byte
	issuer      string
	adminEmails map[string]struct{}
}

// NewVerifier creates a Verifier. issuer may be empty to accept any "iss".
// adminEmails grant admin capability in addition to the "admin" claim.
func NewVerifier(secret, issuer string, adminEmails []string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("identity: jwt secret is required")
	}
	admins := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, adminEmails: admins}, nil
}

// Verify parses tokenStr and returns the actor it identifies.
func (v *Verifier) Verify(tokenStr string) (*model.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	id := claims.Subject
	if id == "" {
		id = claims.UserID
	}
	if id == "" {
		return nil, errors.New("token carries no subject")
	}
	return &model.Actor{
		ID:      id,
		Email:   claims.Email,
		IsAdmin: claims.Admin || v.isAdminEmail(claims.Email),
	}, nil
}

func (v *Verifier) isAdminEmail(email string) bool {
	if email == "" {
		return false
	}
	_, ok := v.adminEmails[strings.ToLower(email)]
	return ok
}

// Issuer mints tokens the Verifier accepts.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an Issuer. ttl defaults to 24 hours.
func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue signs a token for userID.
func (i *Issuer) Issue(userID, email string, admin bool) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
		Email: email,
		Admin: admin,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
