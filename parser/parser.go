// Package parser turns test manifest files into test sequences and memoizes
// the result per (file, browser) so a worker never reads the same file twice.
package parser

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/webgrid-labs/gridrunner/types"
)

// ParseFunc produces the tests contained in one manifest file, bound to the
// given browser. It is a pure function of (file, browserID).
type ParseFunc func(ctx context.Context, file, browserID string) ([]*types.Test, error)

// manifest is the on-disk layout of a test manifest file.
type manifest struct {
	Tests []*types.Test `yaml:"tests"`
}

// ParseManifest reads a YAML test manifest and returns its tests bound to
// the browser. Test ids must be unique within the file.
func ParseManifest(ctx context.Context, file, browserID string) ([]*types.Test, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", file, err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", file, err)
	}

	seen := make(map[string]bool, len(m.Tests))
	tests := make([]*types.Test, 0, len(m.Tests))
	for _, t := range m.Tests {
		if t.ID == "" {
			return nil, fmt.Errorf("manifest %s: test %q has no id", file, t.FullTitle)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("manifest %s: duplicate test id %q", file, t.ID)
		}
		seen[t.ID] = true

		bound := t.Clone(browserID)
		bound.File = file
		tests = append(tests, bound)
	}
	return tests, nil
}
