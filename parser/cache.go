package parser

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	gocache "github.com/patrickmn/go-cache"

	"github.com/webgrid-labs/gridrunner/events"
	"github.com/webgrid-labs/gridrunner/types"
)

// FileRead is the payload of the before/after file-read events.
type FileRead struct {
	File      string
	BrowserID string
}

// Cache memoizes parses by (file, browser id) for its lifetime. One cache
// lives inside each worker execution context; it needs no cross-context
// synchronization. The first parse of a key emits the file-read lifecycle
// events; cache hits emit nothing.
type Cache struct {
	parse ParseFunc
	bus   *events.Bus
	store *gocache.Cache
	log   log.Logger
}

// NewCache creates a parse cache around the given parse function. Parsed
// results never expire within the cache's lifetime.
func NewCache(parse ParseFunc, bus *events.Bus, logger log.Logger) *Cache {
	if logger == nil {
		logger = log.New()
	}
	return &Cache{
		parse: parse,
		bus:   bus,
		store: gocache.New(gocache.NoExpiration, 0),
		log:   logger.New("component", "parse-cache"),
	}
}

// Parse returns the tests of the manifest file scoped to the browser. The
// first call for a (file, browser) key performs the real parse; subsequent
// calls return the memoized sequence without re-reading the file.
func (c *Cache) Parse(ctx context.Context, file, browserID string) ([]*types.Test, error) {
	key := cacheKey(file, browserID)
	if v, ok := c.store.Get(key); ok {
		c.log.Debug("Parse cache hit", "file", file, "browser", browserID)
		return v.([]*types.Test), nil
	}

	c.bus.Emit(events.BeforeFileRead, &FileRead{File: file, BrowserID: browserID})
	tests, err := c.parse(ctx, file, browserID)
	if err != nil {
		return nil, err
	}
	c.bus.Emit(events.AfterFileRead, &FileRead{File: file, BrowserID: browserID})

	c.store.Set(key, tests, gocache.NoExpiration)
	c.log.Debug("Parsed manifest", "file", file, "browser", browserID, "tests", len(tests))
	return tests, nil
}

func cacheKey(file, browserID string) string {
	return fmt.Sprintf("%s|%s", file, browserID)
}
