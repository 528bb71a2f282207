// Package addons hosts optional components that attach to the coordinator's
// event bus, such as file-based run reports.
package addons

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/webgrid-labs/gridrunner/events"
)

type Addon interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type AddonsManager struct {
	addons []Addon
}

type addonCfg struct {
	addonGenerators []func(bus *events.Bus) Addon
}

type Option func(*addonCfg)

// WithFileReports enables file-based run reports written under baseDir.
func WithFileReports(baseDir string, logger log.Logger) Option {
	return func(cfg *addonCfg) {
		cfg.addonGenerators = append(cfg.addonGenerators, func(bus *events.Bus) Addon {
			return NewFileReport(bus, baseDir, logger)
		})
	}
}

// NewAddonsManager builds the configured addons against the given bus. The
// bus must be the coordinator's, attached before the first run.
func NewAddonsManager(ctx context.Context, bus *events.Bus, opts ...Option) (*AddonsManager, error) {
	cfg := &addonCfg{}
	for _, opt := range opts {
		opt(cfg)
	}

	addons := []Addon{}
	for _, generator := range cfg.addonGenerators {
		addons = append(addons, generator(bus))
	}

	return &AddonsManager{
		addons: addons,
	}, nil
}

func (m *AddonsManager) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	for _, addon := range m.addons {
		if err := addon.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *AddonsManager) Stop(ctx context.Context) error {
	if m == nil {
		return nil
	}
	for _, addon := range m.addons {
		if err := addon.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}
