package provider

import (
	"context"

	"github.com/shilei2024/foodai/internal/client/resultcache"
	"github.com/shilei2024/foodai/internal/cryptox"
)

// CachedRecognizer answers repeated requests from a result cache. Failed
// lookups are not cached.
type CachedRecognizer struct {
	next  Recognizer
	cache *resultcache.Cache[Result]
}

func NewCachedRecognizer(next Recognizer, cache *resultcache.Cache[Result]) *CachedRecognizer {
	return &CachedRecognizer{next: next, cache: cache}
}

// CacheKey identifies req. Text is compared case-insensitively and images
// by content.
func CacheKey(req Request) string {
	var image string
	if len(req.Image) > 0 {
		image = cryptox.Digest(req.Image)
	}
	return cryptox.Fingerprint(req.Locale, req.Text, image)
}

func (c *CachedRecognizer) Recognize(ctx context.Context, req Request) (Result, error) {
	return c.cache.GetOrFetch(ctx, CacheKey(req), func(ctx context.Context) (Result, error) {
		return c.next.Recognize(ctx, req)
	})
}

func (c *CachedRecognizer) Stats() resultcache.Stats {
	return c.cache.Stats()
}
