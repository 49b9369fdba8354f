package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/AlexKimmel/PageGate/internal/store"
)

// ErrBadURL is returned by NormalizeKey for input that is not an absolute
// http(s) URL.
var ErrBadURL = errors.New("cache: not an absolute http(s) url")

// Entry is the durable record for one normalized key.
type Entry struct {
	Value      string `json:"value"`
	CreatedAt  int64  `json:"created_at"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

func (e Entry) live(now time.Time) bool {
	return now.Unix() < e.CreatedAt+e.TTLSeconds
}

// Cache is a TTL result cache over a durable store. It is an optimization,
// never a correctness requirement: anything unreadable reads as a miss.
type Cache struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

func New(st store.Store, ttl time.Duration) *Cache {
	return &Cache{store: st, ttl: ttl, now: time.Now}
}

// NormalizeKey canonicalizes a URL into the cache lookup key. Scheme and
// host are lowercased, default ports and the fragment are stripped, and a
// bare root path collapses to none ("http://x.com/" == "http://x.com").
// Path case and deeper trailing slashes are significant: servers may treat
// them differently, so the cache must too.
func NormalizeKey(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "", ErrBadURL
	}
	u.Scheme = scheme

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPort(scheme) {
		host += ":" + port
	}
	u.Host = host

	if u.Path == "/" {
		u.Path = ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// Get returns the live value for key. Absent, expired and corrupt entries
// all read as a miss. Expired and corrupt records are purged inside the
// same per-key transaction as the read, so a Put landing concurrently can
// never be swept out by the purge of the record it replaced.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	var (
		val string
		ok  bool
	)
	err := c.store.Update(ctx, key, func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, nil
		}
		var e Entry
		if err := json.Unmarshal(old, &e); err != nil {
			return nil, store.Tombstone
		}
		if !e.live(c.now()) {
			return nil, store.Tombstone
		}
		val, ok = e.Value, true
		return nil, nil
	})
	if err != nil {
		return "", false
	}
	return val, ok
}

// Put inserts or overwrites the entry for key. Last writer wins.
func (c *Cache) Put(ctx context.Context, key, value string) error {
	b, err := json.Marshal(Entry{
		Value:      value,
		CreatedAt:  c.now().Unix(),
		TTLSeconds: int64(c.ttl.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return c.store.Put(ctx, key, b)
}

// Sweep deletes expired and undecodable entries. Returns how many were
// removed.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		dead := false
		err := c.store.Update(ctx, key, func(old []byte) ([]byte, error) {
			if old == nil {
				return nil, nil
			}
			var e Entry
			if err := json.Unmarshal(old, &e); err == nil && e.live(c.now()) {
				return nil, nil
			}
			dead = true
			return nil, store.Tombstone
		})
		if err == nil && dead {
			removed++
		}
	}
	return removed, nil
}
