// Package discovery resolves path and filter options into a test collection.
// The coordinator depends only on the Reader interface; the manifest reader
// here is the default implementation over YAML test manifests.
package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/ethereum/go-ethereum/log"

	"github.com/webgrid-labs/gridrunner/events"
	"github.com/webgrid-labs/gridrunner/parser"
	"github.com/webgrid-labs/gridrunner/types"
)

// ReadOptions carries discovery paths and filters.
type ReadOptions struct {
	// Paths are manifest files or glob patterns.
	Paths []string
	// Browsers restricts discovery to these browser identifiers; empty
	// means every configured browser.
	Browsers []string
	// Ignore lists glob patterns of files to skip.
	Ignore []string
	// Sets names preconfigured path groups; readers without set support
	// ignore it.
	Sets []string
	// Grep keeps only tests whose full title matches the pattern.
	Grep string
}

// Reader turns read options into a test collection.
type Reader interface {
	Read(ctx context.Context, opts ReadOptions) (*types.TestCollection, error)
}

// BrowserLister is the slice of the registry discovery needs.
type BrowserLister interface {
	BrowserIDs() []string
	Has(id string) bool
}

// ManifestReader reads YAML test manifests. File reads go through a parse
// cache so the before/after file-read events fire once per (file, browser).
type ManifestReader struct {
	browsers BrowserLister
	cache    *parser.Cache
	log      log.Logger
}

// NewManifestReader creates a reader that emits file-read events on bus.
func NewManifestReader(browsers BrowserLister, bus *events.Bus, logger log.Logger) *ManifestReader {
	if logger == nil {
		logger = log.New()
	}
	return &ManifestReader{
		browsers: browsers,
		cache:    parser.NewCache(parser.ParseManifest, bus, logger),
		log:      logger.New("component", "discovery"),
	}
}

// Read expands the path patterns and parses every manifest for every
// requested browser.
func (r *ManifestReader) Read(ctx context.Context, opts ReadOptions) (*types.TestCollection, error) {
	files, err := r.expandPaths(opts)
	if err != nil {
		return nil, err
	}
	if len(opts.Sets) > 0 {
		r.log.Debug("Manifest reader has no set support, ignoring", "sets", opts.Sets)
	}

	var grep *regexp.Regexp
	if opts.Grep != "" {
		grep, err = regexp.Compile(opts.Grep)
		if err != nil {
			return nil, fmt.Errorf("invalid grep pattern %q: %w", opts.Grep, err)
		}
	}

	browserIDs := opts.Browsers
	if len(browserIDs) == 0 {
		browserIDs = r.browsers.BrowserIDs()
	}

	collection := types.NewTestCollection()
	for _, browserID := range browserIDs {
		if !r.browsers.Has(browserID) {
			// Unknown browsers are warned about by the coordinator.
			continue
		}
		for _, file := range files {
			tests, err := r.cache.Parse(ctx, file, browserID)
			if err != nil {
				return nil, err
			}
			for _, t := range tests {
				if grep != nil && !grep.MatchString(t.FullTitle) {
					continue
				}
				if err := collection.Add(browserID, t); err != nil {
					return nil, err
				}
			}
		}
	}

	r.log.Debug("Discovery complete", "files", len(files), "tests", collection.Len())
	return collection, nil
}

func (r *ManifestReader) expandPaths(opts ReadOptions) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range opts.Paths {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid path pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || r.ignored(m, opts.Ignore) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no manifest files matched %v", opts.Paths)
	}
	sort.Strings(files)
	return files, nil
}

func (r *ManifestReader) ignored(file string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, file); ok {
			return true
		}
	}
	return false
}
