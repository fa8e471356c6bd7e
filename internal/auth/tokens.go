package auth

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// ErrInvalidToken covers every token that fails parsing, signature,
// expiry or use checks.
var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	Use string `json:"token_use"`
	jwtlib.RegisteredClaims
}

// Tokens issues and checks HMAC signed access and refresh tokens.
type Tokens struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

func NewTokens(secret []byte, accessTTL, refreshTTL time.Duration) *Tokens {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Tokens{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		issuer:     "matchrelay",
		now:        time.Now,
	}
}

// Pair is an access token plus the refresh token that renews it.
type Pair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// Issue signs a fresh pair for subject.
func (t *Tokens) Issue(subject string) (Pair, error) {
	access, exp, err := t.sign(subject, useAccess, t.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, _, err := t.sign(subject, useRefresh, t.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh, AccessExpiresAt: exp}, nil
}

// VerifyAccess returns the subject of a valid access token.
func (t *Tokens) VerifyAccess(token string) (string, time.Time, error) {
	return t.verify(token, useAccess)
}

// VerifyRefresh returns the subject of a valid refresh token.
func (t *Tokens) VerifyRefresh(token string) (string, error) {
	sub, _, err := t.verify(token, useRefresh)
	return sub, err
}

func (t *Tokens) sign(subject, use string, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(ttl)
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims{
		Use: use,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			Issuer:    t.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", use, err)
	}
	return signed, exp, nil
}

func (t *Tokens) verify(token, use string) (string, time.Time, error) {
	if token == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	var c claims
	parsed, err := jwtlib.ParseWithClaims(token, &c, func(tok *jwtlib.Token) (any, error) {
		if _, ok := tok.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", tok.Header["alg"])
		}
		return t.secret, nil
	},
		jwtlib.WithIssuer(t.issuer),
		jwtlib.WithTimeFunc(t.now),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || c.Use != use || c.Subject == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	return c.Subject, c.ExpiresAt.Time, nil
}
