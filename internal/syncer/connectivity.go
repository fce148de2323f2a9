package syncer

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/lherron/fieldsync/internal/domain"
)

// ConnectivityEvent reports a change in reachability of the gateway
type ConnectivityEvent struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Prober checks whether the gateway is reachable
type Prober interface {
	Health(ctx context.Context) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Health(ctx context.Context) error { return f(ctx) }

// Monitor polls a Prober and emits an event whenever reachability changes
type Monitor struct {
	prober   Prober
	interval time.Duration
	clock    Clock
	logger   *slog.Logger
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

func MonitorClock(c Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

func MonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor returns a monitor probing every interval
func NewMonitor(p Prober, interval time.Duration, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		prober:   p,
		interval: interval,
		clock:    SystemClock,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run probes until ctx is done. The first probe result is always emitted;
// later results only on a transition. The channel is closed when Run stops.
func (m *Monitor) Run(ctx context.Context) <-chan ConnectivityEvent {
	events := make(chan ConnectivityEvent, 1)

	go func() {
		defer close(events)
		first := true
		last := false
		for {
			online := m.probe(ctx)
			if ctx.Err() != nil {
				return
			}
			if first || online != last {
				ev := ConnectivityEvent{Online: online, At: m.clock.Now()}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
				first = false
				last = online
			}

			select {
			case <-ctx.Done():
				return
			case <-m.clock.After(m.interval):
			}
		}
	}()

	return events
}

// probe treats an auth rejection as reachable so the next cycle can surface it
func (m *Monitor) probe(ctx context.Context) bool {
	err := m.prober.Health(ctx)
	if err == nil || domain.IsAuth(err) {
		return true
	}
	m.logger.Debug("gateway unreachable", "error", err)
	return false
}
