package chatapi

import (
	"context"
	"maps"
	"sync"
	"time"
)

// userCacheTTL bounds how stale the directory cache may get before a reader
// triggers a refresh.
const userCacheTTL = 10 * time.Minute

type fetchUsersFunc func(ctx context.Context, token string) ([]User, error)

// userCache is the time-bounded directory cache shared by the REST client
// and the socket client. The whole map is replaced atomically on refresh;
// a failed refresh serves the previous contents.
type userCache struct {
	mu        sync.RWMutex
	users     map[string]User
	fetchedAt time.Time
	ttl       time.Duration
	fetch     fetchUsersFunc
}

func newUserCache(fetch fetchUsersFunc, ttl time.Duration) *userCache {
	return &userCache{
		users: make(map[string]User),
		ttl:   ttl,
		fetch: fetch,
	}
}

func (c *userCache) fresh(now time.Time) bool {
	return !c.fetchedAt.IsZero() && now.Sub(c.fetchedAt) < c.ttl
}

// snapshot returns the directory, refreshing it first when stale. Concurrent
// stale readers race to the write lock; the recheck ensures only the first
// one performs the remote fetch.
func (c *userCache) snapshot(ctx context.Context, token string) map[string]User {
	c.mu.RLock()
	if c.fresh(time.Now()) {
		users := maps.Clone(c.users)
		c.mu.RUnlock()
		return users
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fresh(time.Now()) {
		return maps.Clone(c.users)
	}
	fetched, err := c.fetch(ctx, token)
	if err != nil {
		return maps.Clone(c.users)
	}
	users := make(map[string]User, len(fetched))
	for _, u := range fetched {
		users[u.ID] = u
	}
	c.users = users
	c.fetchedAt = time.Now()
	return maps.Clone(users)
}

func (c *userCache) invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
