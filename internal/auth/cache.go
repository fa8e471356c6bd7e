package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxCacheTTL bounds how long a positive verification is reused.
const maxCacheTTL = 5 * time.Minute

// CachedValidator remembers recently verified access tokens so hot game
// traffic skips signature checks. Entries never outlive the token.
type CachedValidator struct {
	tokens *Tokens
	cache  *expirable.LRU[string, cachedToken]
	now    func() time.Time
}

type cachedToken struct {
	subject   string
	expiresAt time.Time
}

func NewCachedValidator(tokens *Tokens, size int) *CachedValidator {
	if size <= 0 {
		size = 1024
	}
	return &CachedValidator{
		tokens: tokens,
		cache:  expirable.NewLRU[string, cachedToken](size, nil, maxCacheTTL),
		now:    time.Now,
	}
}

func (v *CachedValidator) Verify(_ context.Context, token string) (string, error) {
	if c, ok := v.cache.Get(token); ok {
		if v.now().Before(c.expiresAt) {
			return c.subject, nil
		}
		v.cache.Remove(token)
	}

	sub, exp, err := v.tokens.VerifyAccess(token)
	if err != nil {
		return "", err
	}
	v.cache.Add(token, cachedToken{subject: sub, expiresAt: exp})
	return sub, nil
}

// Len reports the number of cached tokens.
func (v *CachedValidator) Len() int {
	return v.cache.Len()
}
