// internal/position/registry.go
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound reports an id with no open position behind it.
	ErrNotFound = errors.New("position not found")
	// ErrNotRunning reports a position that cannot transition because it
	// is still starting or already closing.
	ErrNotRunning = errors.New("position not running")
)

// Registry is the process-wide table of open positions. It assigns ids,
// prevents duplicate positions per (wallet, mint), and arbitrates every
// status transition, so the tick loop and manual requests can race to
// close a position and exactly one of them wins.
type Registry struct {
	mu       sync.RWMutex
	nextID   uint64
	monitors map[string]*Monitor
	byKey    map[string]string // wallet|mint -> position id
	logger   *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		monitors: make(map[string]*Monitor),
		byKey:    make(map[string]string),
		logger:   logger.Named("registry"),
	}
}

func pairKey(wallet, mint string) string {
	return wallet + "|" + mint
}

// Register assigns a monotonic id to the monitor's position and indexes
// it. Fails when the wallet already has an open position on the mint.
func (r *Registry) Register(m *Monitor) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(m.pos.Wallet, m.pos.TokenMint)
	if existing, ok := r.byKey[key]; ok {
		return "", fmt.Errorf("position %s already open for %s on %s",
			existing, m.pos.Wallet, m.pos.TokenMint)
	}

	r.nextID++
	id := fmt.Sprintf("pos-%d", r.nextID)
	m.pos.ID = id
	r.monitors[id] = m
	r.byKey[key] = id

	r.logger.Info("position registered",
		zap.String("position_id", id),
		zap.String("wallet", m.pos.Wallet),
		zap.String("token_mint", m.pos.TokenMint))
	return id, nil
}

// Get returns the monitor for an open position.
func (r *Registry) Get(id string) (*Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.monitors[id]
	return m, ok
}

// Active returns the monitors of all open positions.
func (r *Registry) Active() []*Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, m)
	}
	return out
}

// StatusOf returns the current status of a position. Terminal positions
// are no longer present; callers get ok=false for those.
func (r *Registry) StatusOf(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.monitors[id]
	if !ok {
		return "", false
	}
	return m.pos.Status, true
}

// markRunning moves a position from starting to running once its entry
// completed. Fails when the position was canceled during entry.
func (r *Registry) markRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.monitors[id]
	if !ok || m.pos.Status != StatusStarting {
		return false
	}
	m.pos.Status = StatusRunning
	return true
}

// BeginClose atomically moves a running position into closing. Exactly
// one caller wins; losers observe false and must not sell.
func (r *Registry) BeginClose(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.monitors[id]
	if !ok || m.pos.Status != StatusRunning {
		return false
	}
	m.pos.Status = StatusClosing
	return true
}

// Cancel stops a starting or running position without selling. The
// monitor's timer is stopped immediately; an already-submitted swap is
// not undone.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	m, ok := r.monitors[id]
	if !ok || (m.pos.Status != StatusStarting && m.pos.Status != StatusRunning) {
		r.mu.Unlock()
		return false
	}
	m.pos.Status = StatusCanceled
	m.pos.ClosedAt = time.Now().UTC()
	r.removeLocked(id, m)
	r.mu.Unlock()

	m.stop()
	r.logger.Info("position canceled", zap.String("position_id", id))
	return true
}

// Complete marks a position terminal and removes it from the registry in
// the same step. After this returns no path can sell against the id.
func (r *Registry) Complete(id string, status Status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.monitors[id]
	if !ok {
		return
	}
	m.pos.Status = status
	m.pos.CloseReason = reason
	m.pos.ClosedAt = time.Now().UTC()
	r.removeLocked(id, m)

	r.logger.Info("position closed",
		zap.String("position_id", id),
		zap.String("status", string(status)),
		zap.String("reason", reason))
}

func (r *Registry) removeLocked(id string, m *Monitor) {
	delete(r.monitors, id)
	delete(r.byKey, pairKey(m.pos.Wallet, m.pos.TokenMint))
}
