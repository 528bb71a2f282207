package webdriver

import (
	"context"

	"github.com/webgrid-labs/gridrunner/registry"
	"github.com/webgrid-labs/gridrunner/types"
)

// Factory adapts the WebDriver client to the session pool's factory
// contract, resolving per-browser capabilities from the registry.
type Factory struct {
	client   *Client
	registry *registry.Registry
}

// NewFactory creates a pool factory over the given client.
func NewFactory(client *Client, reg *registry.Registry) *Factory {
	return &Factory{client: client, registry: reg}
}

// NewSession establishes a session with the browser's desired capabilities.
func (f *Factory) NewSession(ctx context.Context, browserID string) (*types.BrowserSession, error) {
	bc, _ := f.registry.Browser(browserID)

	caps := bc.DesiredCapabilities
	if caps == nil {
		caps = map[string]any{"browserName": browserID}
	}

	sessionID, resolved, err := f.client.NewSession(ctx, caps)
	if err != nil {
		return nil, err
	}
	return &types.BrowserSession{
		BrowserID: browserID,
		SessionID: sessionID,
		Caps:      resolved,
		Opts:      bc.LaunchOptions,
	}, nil
}

// CloseSession tears the session down.
func (f *Factory) CloseSession(ctx context.Context, session *types.BrowserSession) error {
	return f.client.DeleteSession(ctx, session.SessionID)
}

// NavigateExecutor runs a test by driving its session to the test's target
// URL. Tests without a url are treated as pure session smoke tests.
type NavigateExecutor struct {
	client *Client
}

// NewNavigateExecutor creates the default executor.
func NewNavigateExecutor(client *Client) *NavigateExecutor {
	return &NavigateExecutor{client: client}
}

// Execute implements the worker executor contract.
func (e *NavigateExecutor) Execute(ctx context.Context, test *types.Test, session *types.BrowserSession) error {
	url := test.Meta["url"]
	if url == "" {
		return nil
	}
	return e.client.Navigate(ctx, session.SessionID, url)
}
