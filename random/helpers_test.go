package random

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	randomfile "github.com/wolfeidau/random-file"
	"github.com/wolfeidau/random-file/catalog"
	"github.com/wolfeidau/random-file/listcache"
)

// pagedStore serves fixed pages keyed by cursor. Page i is returned for
// cursor "" (i == 0) or "c<i>".
type pagedStore struct {
	pages  [][]catalog.Key
	failAt int // 1-based page number that fails, 0 for never
	calls  atomic.Int32
	limits []int
	mu     sync.Mutex

	entered chan struct{}
	release chan struct{}
}

func (s *pagedStore) List(ctx context.Context, cursor string, limit int) (*catalog.Page, error) {
	n := int(s.calls.Add(1))
	s.mu.Lock()
	s.limits = append(s.limits, limit)
	s.mu.Unlock()

	if s.entered != nil && n == 1 {
		close(s.entered)
	}
	if s.release != nil {
		<-s.release
	}

	idx := 0
	if cursor != "" {
		i, err := strconv.Atoi(strings.TrimPrefix(cursor, "c"))
		if err != nil {
			return nil, catalog.ErrInvalidCursor
		}
		idx = i
	}
	if s.failAt == idx+1 {
		return nil, errors.New("kv list failed")
	}
	if idx >= len(s.pages) {
		return &catalog.Page{}, nil
	}

	page := &catalog.Page{Keys: s.pages[idx]}
	if idx+1 < len(s.pages) {
		page.Cursor = cursorFor(idx + 1)
	}
	return page, nil
}

func cursorFor(i int) string {
	return "c" + strconv.Itoa(i)
}

func key(name string, fileTypes ...string) catalog.Key {
	if fileTypes == nil {
		return catalog.Key{Name: name}
	}
	return catalog.Key{Name: name, Metadata: &catalog.Metadata{FileType: randomfile.FileTypes(fileTypes)}}
}

// twoPageStore is the canonical fixture: only konA.jpg and konB.mp4 survive.
func twoPageStore() *pagedStore {
	return &pagedStore{pages: [][]catalog.Key{
		{
			key("manage@config", "image"),
			key("konA.jpg", "image"),
			key("other.png", "image"),
		},
		{
			key("konB.mp4", "video"),
			key("konC.txt", "text"),
		},
	}}
}

// countingCache wraps a cache, counts calls and optionally fails them.
type countingCache struct {
	next    listcache.Cache
	gets    atomic.Int32
	puts    atomic.Int32
	failGet bool
	failPut bool
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	if c.failGet {
		return nil, errors.New("cache unavailable")
	}
	return c.next.Get(ctx, key)
}

func (c *countingCache) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	c.puts.Add(1)
	if c.failPut {
		return errors.New("cache unavailable")
	}
	return c.next.Put(ctx, key, data, ttl)
}
