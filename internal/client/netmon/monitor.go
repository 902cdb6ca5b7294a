// Package netmon maintains a single "is online" flag for the sync engine.
// The flag is updated asynchronously, either by the built-in probe loop or
// by platform reachability callbacks feeding Report. The getter never blocks
// on a fresh probe; listeners are notified only on actual transitions.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/cellatlas/cellsync/internal/logging"
)

// Prober checks server reachability. The API client satisfies this.
type Prober interface {
	Ping(ctx context.Context) error
}

const probeTimeout = 3 * time.Second

// Monitor is an explicitly constructed, injected component with a
// single-owner start/stop lifecycle.
type Monitor struct {
	prober   Prober
	interval time.Duration
	log      logging.Logger

	mu        sync.Mutex
	online    bool
	listeners map[int]func(online bool)
	nextID    int

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped Monitor. The initial state is offline until the
// first probe or Report says otherwise.
func New(prober Prober, interval time.Duration, log logging.Logger) *Monitor {
	return &Monitor{
		prober:    prober,
		interval:  interval,
		log:       log.With("component", "netmon"),
		listeners: make(map[int]func(bool)),
	}
}

// Start launches the probe loop. An immediate probe runs before the first
// tick so callers get a real answer quickly.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		m.probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.probe(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	m.Report(m.prober.Ping(pctx) == nil)
}

// Online returns the last known reachability state without blocking.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Report feeds a reachability observation. Repeated identical reports are
// absorbed; only transitions reach the listeners.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	m.log.Info(context.Background(), "connectivity changed", "online", online)
	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers a transition listener and returns its unsubscribe
// function. Listeners run synchronously on the reporting goroutine.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}
