package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-lookup-service/internal/models"
)

const keyPrefix = "weather-request:"

// maxKeyLen is memcached's key length limit.
const maxKeyLen = 250

// MemcachedStore implements Store on memcached so several replicas share one id space.
// Items are written without expiration; memcached may still evict them under memory pressure.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	selector := new(memcache.ServerList)
	if err := selector.SetServers(servers...); err != nil {
		return nil, fmt.Errorf("memcached servers %q: %w", addrs, err)
	}
	client := memcache.NewFromSelector(selector)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key returns the memcached key for id and whether id can be stored at all.
func key(id string) (string, bool) {
	k := keyPrefix + id
	if len(k) > maxKeyLen {
		return "", false
	}
	for i := 0; i < len(k); i++ {
		if k[i] <= ' ' || k[i] == 0x7f {
			return "", false
		}
	}
	return k, true
}

// Put implements Store.Put.
func (s *MemcachedStore) Put(ctx context.Context, id string, record models.StoredRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, ok := key(id)
	if !ok {
		return fmt.Errorf("%w: %q", memcache.ErrMalformedKey, id)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return s.client.Set(&memcache.Item{
		Key:   k,
		Value: raw,
	})
}

// Get implements Store.Get. Ids that cannot form a valid key are reported as absent.
func (s *MemcachedStore) Get(ctx context.Context, id string) (models.StoredRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.StoredRecord{}, false, err
	}
	k, ok := key(id)
	if !ok {
		return models.StoredRecord{}, false, nil
	}
	item, err := s.client.Get(k)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.StoredRecord{}, false, nil
		}
		return models.StoredRecord{}, false, err
	}
	var record models.StoredRecord
	if err := json.Unmarshal(item.Value, &record); err != nil {
		return models.StoredRecord{}, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return record, true, nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (s *MemcachedStore) Ping() error {
	return s.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (s *MemcachedStore) Close() error {
	return s.client.Close()
}
