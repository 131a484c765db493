package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/semaphore"

	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/resilience"
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConnsPerHost    int
	IdleTimeout        time.Duration
	ConnectTimeout     time.Duration
	BreakerMaxFailures int
	BreakerOpenTimeout time.Duration
}

// DefaultPoolConfig mirrors the engine defaults in pkg/config.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnsPerHost:    2,
		IdleTimeout:        5 * time.Minute,
		ConnectTimeout:     10 * time.Second,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 30 * time.Second,
	}
}

// pooledConn wraps one cached *ssh.Client with its last-used time.
type pooledConn struct {
	client   *ssh.Client
	lastUsed time.Time
}

// Pool hands out SSH connections per host, one slot guarded by a mutex
// and protected by a circuit breaker so a flapping asset stops being
// redialed on every command. It never reconnects across network
// partitions by itself: callers see the BreakerOpenError and decide
// whether to keep going with other assets, matching the strategy
// engine's per-asset failure isolation.
//
// Per-host mutex (Invariant #4: at most one mutating operation per host
// at a time) is enforced by a weighted semaphore per host sized to
// MaxConnsPerHost: an exclusive lease acquires the full weight, a
// shared lease acquires one unit, so up to MaxConnsPerHost reads can
// run concurrently but a write waits for every read (and every other
// write) to drain first.
type Pool struct {
	cfg      PoolConfig
	breakers *resilience.Registry
	log      *logger.Logger

	mu    sync.Mutex
	conns map[string]*pooledConn // keyed by "user@host:port"
	gates map[string]*semaphore.Weighted
}

// NewPool creates a connection pool.
func NewPool(cfg PoolConfig, log *logger.Logger) *Pool {
	breakerCfg := resilience.DefaultBreakerConfig("remote-pool")
	breakerCfg.MaxFailures = cfg.BreakerMaxFailures
	breakerCfg.Timeout = cfg.BreakerOpenTimeout

	return &Pool{
		cfg:      cfg,
		breakers: resilience.NewRegistry(breakerCfg),
		log:      log.WithComponent("remote-pool"),
		conns:    make(map[string]*pooledConn),
		gates:    make(map[string]*semaphore.Weighted),
	}
}

func connKey(user, addr string, port int) string {
	return fmt.Sprintf("%s@%s:%d", user, addr, port)
}

func (p *Pool) gate(key string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gates[key]
	if !ok {
		g = semaphore.NewWeighted(p.maxConns())
		p.gates[key] = g
	}
	return g
}

func (p *Pool) maxConns() int64 {
	if p.cfg.MaxConnsPerHost < 1 {
		return 1
	}
	return int64(p.cfg.MaxConnsPerHost)
}

// Lease is a held slot against one host's per-host mutex. Exactly one
// mutating Lease (or up to MaxConnsPerHost read Leases) can be held per
// host at a time. Callers must call Release exactly once.
type Lease struct {
	gate     *semaphore.Weighted
	weight   int64
	released bool
	mu       sync.Mutex
}

// Release drops the leased slot(s). Safe to call more than once; only
// the first call has effect.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.gate.Release(l.weight)
}

// Acquire leases a host slot: exclusive (for any mutating operation —
// running a script, writing a file) takes every unit of the host's
// gate so no other lease of either kind can be held concurrently;
// shared (read-only probes, connection tests) takes a single unit, so
// up to MaxConnsPerHost reads may run at once. The caller must Release
// the returned Lease once the operation completes.
func (p *Pool) Acquire(ctx context.Context, user, addr string, port int, exclusive bool) (*Lease, error) {
	key := connKey(user, addr, port)
	g := p.gate(key)

	w := p.maxConns()
	if !exclusive {
		w = 1
	}
	if err := g.Acquire(ctx, w); err != nil {
		return nil, fmt.Errorf("acquire %s lease for %s: %w", leaseKind(exclusive), key, err)
	}
	return &Lease{gate: g, weight: w}, nil
}

func leaseKind(exclusive bool) string {
	if exclusive {
		return "exclusive"
	}
	return "shared"
}

// Conn returns a cached *ssh.Client for the given host if it's alive,
// or dials a fresh one through dial, all under the host's circuit
// breaker. Conn is independent of the per-host mutex lease above: the
// same cached connection backs both shared and exclusive leases, it
// just may never carry two mutating sessions at once.
func (p *Pool) Conn(ctx context.Context, user, addr string, port int, dial func(ctx context.Context) (*ssh.Client, error)) (*ssh.Client, error) {
	key := connKey(user, addr, port)
	breaker := p.breakers.Get(key)

	result, err := breaker.Execute(ctx, func() (any, error) {
		p.mu.Lock()
		if pc, ok := p.conns[key]; ok {
			if time.Since(pc.lastUsed) < p.cfg.IdleTimeout {
				if _, _, err := pc.client.SendRequest("keepalive@rollforge", true, nil); err == nil {
					pc.lastUsed = time.Now()
					p.mu.Unlock()
					return pc.client, nil
				}
			}
			_ = pc.client.Close()
			delete(p.conns, key)
		}
		p.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()

		client, err := dial(dialCtx)
		if err != nil {
			return nil, fmt.Errorf("dial %s failed: %w", key, err)
		}

		p.mu.Lock()
		p.conns[key] = &pooledConn{client: client, lastUsed: time.Now()}
		p.mu.Unlock()

		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*ssh.Client), nil
}

// Invalidate drops a cached connection, forcing the next Conn call to
// redial. The Remote Executor calls this when a session or SFTP
// operation fails mid-command, since a broken pipe won't surface
// through the breaker's keepalive check until the next acquire.
func (p *Pool) Invalidate(user, addr string, port int) {
	key := connKey(user, addr, port)
	p.mu.Lock()
	defer p.mu.Unlock()
	if pc, ok := p.conns[key]; ok {
		_ = pc.client.Close()
		delete(p.conns, key)
	}
}

// CloseAll closes every pooled connection, used on shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, pc := range p.conns {
		_ = pc.client.Close()
		delete(p.conns, key)
	}
}

// BreakerState reports the circuit breaker state for one host, used by
// the analytics/status surface.
func (p *Pool) BreakerState(user, addr string, port int) resilience.State {
	return p.breakers.Get(connKey(user, addr, port)).State()
}
