// Package registry loads and serves the browser configuration: which logical
// browsers exist, how many concurrent sessions each may hold, whether its
// tests run in strict id order, and the options sessions are launched with.
package registry

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

// DefaultSessionLimit applies when a browser entry does not set one.
const DefaultSessionLimit = 1

// DefaultSessionRetries bounds how often session establishment is retried
// before an acquisition fails.
const DefaultSessionRetries = 2

// BrowserConfig is the per-browser configuration block.
type BrowserConfig struct {
	// Sessions is the concurrency limit for live sessions of this browser.
	Sessions int `yaml:"sessions"`
	// StrictOrder enables deterministic id ordering of this browser's tests.
	StrictOrder bool `yaml:"strict_order"`
	// DesiredCapabilities are passed verbatim to session establishment.
	DesiredCapabilities map[string]any `yaml:"desired_capabilities"`
	// LaunchOptions are arbitrary session launch options; the coordinator
	// reads them but does not validate them.
	LaunchOptions map[string]any `yaml:"launch_options"`
}

// browserFile is the on-disk layout of the browser config file.
type browserFile struct {
	GridURL        string                   `yaml:"grid_url"`
	SessionRetries *uint64                  `yaml:"session_retries"`
	Browsers       map[string]BrowserConfig `yaml:"browsers"`
}

// Config contains registry construction parameters.
type Config struct {
	Log               log.Logger
	BrowserConfigFile string
}

// Registry manages browser configurations.
type Registry struct {
	config   Config
	gridURL  string
	retries  uint64
	browsers map[string]BrowserConfig
	mu       sync.RWMutex
}

// NewRegistry creates a registry from the configured browser file.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.BrowserConfigFile == "" {
		return nil, fmt.Errorf("browser config file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	r := &Registry{config: cfg}
	if err := r.load(cfg.BrowserConfigFile); err != nil {
		return nil, fmt.Errorf("failed to load browser config: %w", err)
	}

	cfg.Log.Debug("Registry loaded", "len(browsers)", len(r.browsers))
	return r, nil
}

func (r *Registry) load(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read browser config %s: %w", path, err)
	}

	var file browserFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse browser config %s: %w", path, err)
	}
	if len(file.Browsers) == 0 {
		return fmt.Errorf("browser config %s defines no browsers", path)
	}

	for id, bc := range file.Browsers {
		if bc.Sessions <= 0 {
			bc.Sessions = DefaultSessionLimit
			file.Browsers[id] = bc
		}
	}

	r.gridURL = file.GridURL
	r.retries = DefaultSessionRetries
	if file.SessionRetries != nil {
		r.retries = *file.SessionRetries
	}
	r.browsers = file.Browsers
	return nil
}

// Browser returns the configuration for one browser identifier.
func (r *Registry) Browser(id string) (BrowserConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bc, ok := r.browsers[id]
	return bc, ok
}

// Has reports whether the browser identifier is configured.
func (r *Registry) Has(id string) bool {
	_, ok := r.Browser(id)
	return ok
}

// BrowserIDs returns the configured browser identifiers in sorted order.
func (r *Registry) BrowserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.browsers))
	for id := range r.browsers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SessionLimit returns the session concurrency limit for a browser. Unknown
// browsers get the default limit; the caller is expected to have warned
// about them already.
func (r *Registry) SessionLimit(id string) int64 {
	bc, ok := r.Browser(id)
	if !ok {
		return DefaultSessionLimit
	}
	return int64(bc.Sessions)
}

// StrictOrder reports whether the browser's tests are sorted by id.
func (r *Registry) StrictOrder(id string) bool {
	bc, _ := r.Browser(id)
	return bc.StrictOrder
}

// SessionRetries returns the bounded retry count for session establishment.
func (r *Registry) SessionRetries() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.retries
}

// GridURL returns the remote grid endpoint sessions are established against.
func (r *Registry) GridURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gridURL
}
