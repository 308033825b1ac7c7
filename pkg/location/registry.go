package location

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

// Endpoint is a resolved provider plus the identity of its connection.
type Endpoint struct {
	Provider provider.Provider
	Conn     provider.ConnInfo
}

// Factory builds providers for one URI scheme.
type Factory interface {
	// ConnInfo derives the connection identity for u without connecting.
	ConnInfo(u *URI) provider.ConnInfo

	// Open connects a provider for conn.
	Open(ctx context.Context, conn provider.ConnInfo) (provider.Provider, error)
}

// CredentialRefresher obtains fresh credentials for conn after an
// authentication failure. It returns the connection to retry with.
type CredentialRefresher func(ctx context.Context, conn provider.ConnInfo) (provider.ConnInfo, error)

// Registry resolves URIs to shared endpoints.
//
// One provider is opened per distinct connection and reused by every URI
// that maps to it. Registry is safe for concurrent use.
type Registry struct {
	logger    *zap.Logger
	refresh   CredentialRefresher
	mu        sync.Mutex
	factories map[provider.ProviderType]Factory
	cache     map[string]*cacheEntry
	closed    bool
}

type cacheEntry struct {
	ready chan struct{}
	ep    *Endpoint
	err   error
}

// Option configures a Registry.
type Option func(*Registry)

// WithFactory registers f for scheme.
func WithFactory(scheme provider.ProviderType, f Factory) Option {
	return func(r *Registry) { r.factories[scheme] = f }
}

// WithCredentialRefresher enables one refresh-and-retry on authentication
// failures.
func WithCredentialRefresher(fn CredentialRefresher) Option {
	return func(r *Registry) { r.refresh = fn }
}

// WithLogger sets the logger. The default discards logs.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a registry with the given factories.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:    zap.NewNop(),
		factories: make(map[provider.ProviderType]Factory),
		cache:     make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the factory for scheme.
func (r *Registry) Register(scheme provider.ProviderType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[scheme] = f
}

// Resolve parses raw and returns its endpoint plus the path inside it.
func (r *Registry) Resolve(ctx context.Context, raw string) (*Endpoint, string, error) {
	u, err := ParseURI(raw)
	if err != nil {
		return nil, "", err
	}
	ep, err := r.ResolveURI(ctx, u)
	if err != nil {
		return nil, "", err
	}
	return ep, u.Path, nil
}

// ResolveURI returns the endpoint for an already parsed URI.
func (r *Registry) ResolveURI(ctx context.Context, u *URI) (*Endpoint, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("resolve %s: registry closed", u)
	}
	f, ok := r.factories[u.Scheme]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	conn := f.ConnInfo(u)
	key := conn.Key()
	if e, ok := r.cache[key]; ok {
		r.mu.Unlock()
		select {
		case <-e.ready:
			return e.ep, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &cacheEntry{ready: make(chan struct{})}
	r.cache[key] = e
	r.mu.Unlock()

	e.ep, e.err = r.open(ctx, f, conn)
	if e.err != nil {
		r.mu.Lock()
		delete(r.cache, key)
		r.mu.Unlock()
	}
	close(e.ready)
	return e.ep, e.err
}

func (r *Registry) open(ctx context.Context, f Factory, conn provider.ConnInfo) (*Endpoint, error) {
	p, err := f.Open(ctx, conn)
	if err == nil {
		r.logger.Debug("endpoint opened", zap.Stringer("endpoint", conn))
		return &Endpoint{Provider: p, Conn: conn}, nil
	}
	if !provider.IsInvalidCredentials(err) || r.refresh == nil {
		return nil, err
	}

	r.logger.Info("authentication failed, refreshing credentials", zap.Stringer("endpoint", conn), zap.Error(err))
	refreshed, rerr := r.refresh(ctx, conn)
	if rerr != nil {
		return nil, multierr.Append(err, fmt.Errorf("refresh credentials: %w", rerr))
	}
	p, err = f.Open(ctx, refreshed)
	if err != nil {
		return nil, err
	}
	return &Endpoint{Provider: p, Conn: refreshed}, nil
}

// Close closes every opened provider. Later Resolve calls fail.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	entries := r.cache
	r.cache = make(map[string]*cacheEntry)
	r.mu.Unlock()

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		e := entries[k]
		<-e.ready
		if e.ep != nil {
			err = multierr.Append(err, e.ep.Provider.Close())
		}
	}
	return err
}
