package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/sanitize"
)

// Config configures a Provider.
type Config struct {
	// DefaultTopK is used for searches with topK <= 0. Default 5.
	DefaultTopK int
	// MaxTopK caps topK. Default 50.
	MaxTopK int
}

func (c *Config) applyDefaults() {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultTopK
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = DefaultMaxTopK
	}
	if c.DefaultTopK > c.MaxTopK {
		c.DefaultTopK = c.MaxTopK
	}
}

// Provider hands out one Handle per client and owns their lifecycle.
// It is safe for concurrent use.
type Provider struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger

	mu      sync.RWMutex // protects handles, closed
	handles map[string]*handle
	closed  bool
}

// NewProvider creates a Provider over backend.
func NewProvider(backend Backend, cfg Config, logger *zap.Logger) (*Provider, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Provider{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		handles: make(map[string]*handle),
	}, nil
}

// Open returns the handle of clientID, creating its namespace on first use.
func (p *Provider) Open(ctx context.Context, clientID string) (Handle, error) {
	if err := sanitize.ValidateClientID(clientID); err != nil {
		return nil, err
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrClosed
	}
	if h, ok := p.handles[clientID]; ok {
		p.mu.RUnlock()
		return h, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if h, ok := p.handles[clientID]; ok {
		return h, nil
	}

	name := sanitize.Namespace(clientID)
	h, err := openHandle(ctx, p.backend, clientID, name, p.cfg.DefaultTopK, p.cfg.MaxTopK, p.logger)
	if err != nil {
		return nil, err
	}
	p.handles[clientID] = h
	openHandles.WithLabelValues(p.backend.Name()).Inc()

	p.logger.Debug("opened vector index",
		zap.String("client.id", clientID),
		zap.String("namespace", name),
		zap.String("backend", p.backend.Name()),
		zap.Int("dimension", h.dimension))
	return h, nil
}

// Delete removes the whole index of clientID.
func (p *Provider) Delete(ctx context.Context, clientID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	if h, ok := p.handles[clientID]; ok {
		if err := h.close(); err != nil {
			p.logger.Warn("closing handle before delete", zap.String("client.id", clientID), zap.Error(err))
		}
		delete(p.handles, clientID)
		openHandles.WithLabelValues(p.backend.Name()).Dec()
	}

	if err := p.backend.Drop(ctx, sanitize.Namespace(clientID)); err != nil {
		return fmt.Errorf("dropping index of %s: %w", clientID, err)
	}
	p.logger.Info("deleted vector index", zap.String("client.id", clientID))
	return nil
}

// Close closes every handle and the backend.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for id, h := range p.handles {
		if err := h.close(); err != nil {
			p.logger.Error("failed to close index handle", zap.String("client.id", id), zap.Error(err))
			errs = append(errs, err)
		}
		openHandles.WithLabelValues(p.backend.Name()).Dec()
	}
	p.handles = make(map[string]*handle)
	if err := p.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Backend returns the name of the underlying backend.
func (p *Provider) Backend() string {
	return p.backend.Name()
}
