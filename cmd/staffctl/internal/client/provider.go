package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/terraconstructs/staffgrid/cmd/staffctl/internal/auth"
	"github.com/terraconstructs/staffgrid/internal/telemetry"
	"github.com/terraconstructs/staffgrid/pkg/sdk"
)

// Provider lazily builds the credential store and the session orchestrator
// shared by all commands of one staffctl invocation.
type Provider struct {
	serverURL string
	timeout   time.Duration
	logger    *slog.Logger
	store     sdk.CredentialStore

	storeOnce sync.Once
	storeErr  error

	orchOnce sync.Once
	orch     *sdk.Orchestrator
	orchErr  error
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithCredentialStore overrides the default ~/.staffgrid file store.
func WithCredentialStore(store sdk.CredentialStore) ProviderOption {
	return func(p *Provider) {
		p.store = store
	}
}

// NewProvider constructs a new Provider bound to the given server URL.
func NewProvider(serverURL string, timeout time.Duration, logger *slog.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{serverURL: serverURL, timeout: timeout, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ServerURL returns the API base URL.
func (p *Provider) ServerURL() string {
	return p.serverURL
}

// CredentialStore returns the durable token store.
func (p *Provider) CredentialStore() (sdk.CredentialStore, error) {
	p.storeOnce.Do(func() {
		if p.store != nil {
			return
		}
		store, err := auth.NewFileStore()
		if err != nil {
			p.storeErr = fmt.Errorf("failed to create credential store: %w", err)
			return
		}
		p.store = store
	})
	return p.store, p.storeErr
}

// Orchestrator returns the session orchestrator, restoring any stored
// session on first use.
func (p *Provider) Orchestrator(ctx context.Context) (*sdk.Orchestrator, error) {
	p.orchOnce.Do(func() {
		store, err := p.CredentialStore()
		if err != nil {
			p.orchErr = err
			return
		}

		metrics, err := telemetry.NewAuthMetrics()
		if err != nil {
			p.logger.Debug("auth metrics unavailable", "error", err)
		}

		api := sdk.NewAPIClient(p.serverURL, sdk.WithHTTPClient(&http.Client{Timeout: p.timeout}))
		p.orch = sdk.NewOrchestrator(api, store,
			sdk.WithLogger(p.logger),
			sdk.WithMetrics(metrics),
		)
		p.orch.Subscribe(func(s sdk.Session) {
			p.logger.Debug("session changed", "phase", s.Phase, "version", s.Version)
		})
		p.orch.LoadUser(ctx)
	})
	return p.orch, p.orchErr
}

// AuthenticatedOrchestrator returns the orchestrator after ensuring a
// session was restored and its permission set is loaded.
func (p *Provider) AuthenticatedOrchestrator(ctx context.Context) (*sdk.Orchestrator, error) {
	orch, err := p.Orchestrator(ctx)
	if err != nil {
		return nil, err
	}
	if !orch.Snapshot().IsAuthenticated() {
		return nil, fmt.Errorf("not logged in; please run `staffctl auth login`")
	}
	if err := orch.EnsurePermissionsLoaded(ctx); err != nil {
		return nil, fmt.Errorf("failed to load permissions: %w", err)
	}
	return orch, nil
}
