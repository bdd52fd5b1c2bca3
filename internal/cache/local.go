package cache

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"go.uber.org/zap"

	"teamledger.io/internal/obs"
	"teamledger.io/internal/tenancy"
)

const defaultLocalMaxBytes = 32 * 1024 * 1024

// Local keeps permission sets in process memory. Entries carry their own
// expiry, so stale values are dropped on read.
type Local struct {
	cache *fastcache.Cache
	ttl   time.Duration
	now   func() time.Time
}

var _ tenancy.PermissionCache = (*Local)(nil)

// NewLocal allocates a fastcache of maxBytes. A zero ttl keeps entries until evicted.
func NewLocal(maxBytes int, ttl time.Duration) *Local {
	if maxBytes <= 0 {
		maxBytes = defaultLocalMaxBytes
	}
	return &Local{cache: fastcache.New(maxBytes), ttl: ttl, now: time.Now}
}

func (l *Local) Get(_ context.Context, key string) ([]string, bool) {
	raw, ok := l.cache.HasGet(nil, []byte(key))
	if !ok {
		obs.ObserveCache(ModeLocal, false)
		return nil, false
	}
	perms, ok := decode(raw, l.now())
	if !ok {
		l.cache.Del([]byte(key))
	}
	obs.ObserveCache(ModeLocal, ok)
	return perms, ok
}

func (l *Local) Set(_ context.Context, key string, perms []string) {
	var expires time.Time
	if l.ttl > 0 {
		expires = l.now().Add(l.ttl)
	}
	raw, err := encode(perms, expires)
	if err != nil {
		obs.Logger().Warn("permission cache encode failed", zap.Error(err))
		return
	}
	l.cache.Set([]byte(key), raw)
}

func (l *Local) Invalidate(_ context.Context, keys ...string) {
	for _, id := range keys {
		l.cache.Del([]byte(id))
	}
}

func (l *Local) Purge(context.Context) {
	l.cache.Reset()
}

// Stats exposes fastcache counters.
func (l *Local) Stats() fastcache.Stats {
	var s fastcache.Stats
	l.cache.UpdateStats(&s)
	return s
}
