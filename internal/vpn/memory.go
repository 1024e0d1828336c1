package vpn

import (
	"context"
	"sync"
	"time"

	"wg-tunnels/internal/wgconf"
)

// Memory simulates the OS layer in process. It is used for tests and for
// running the daemon without privileges.
type Memory struct {
	mu       sync.Mutex
	status   map[string]Status
	configs  map[string]*wgconf.Config
	startErr map[string]error
	stopErr  map[string]error
	latency  time.Duration
	gate     chan struct{}
	starts   int
	stops    int
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{
		status:   map[string]Status{},
		configs:  map[string]*wgconf.Config{},
		startErr: map[string]error{},
		stopErr:  map[string]error{},
	}
}

// SetLatency delays every Start and Stop by d.
func (m *Memory) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// FailStart makes starting name return err (nil clears it).
func (m *Memory) FailStart(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.startErr, name)
		return
	}
	m.startErr[name] = err
}

// FailStop makes stopping name return err (nil clears it).
func (m *Memory) FailStop(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.stopErr, name)
		return
	}
	m.stopErr[name] = err
}

// Hold makes subsequent Start calls block until release is called or their
// context ends.
func (m *Memory) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// SetStatus changes what the OS reports for name, as if the tunnel had been
// brought up or down outside of this process.
func (m *Memory) SetStatus(name string, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == Down {
		delete(m.status, name)
		delete(m.configs, name)
		return
	}
	m.status[name] = s
}

// Config returns the config name was last started with.
func (m *Memory) Config(name string) *wgconf.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[name]
}

// Counts returns how many Start and Stop calls were made.
func (m *Memory) Counts() (starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.stops
}

func (m *Memory) wait(ctx context.Context, gate chan struct{}, latency time.Duration) error {
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Memory) Start(ctx context.Context, name string, cfg *wgconf.Config) error {
	m.mu.Lock()
	m.starts++
	gate, latency := m.gate, m.latency
	m.mu.Unlock()

	if err := m.wait(ctx, gate, latency); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return context.Canceled
	}
	if err := m.startErr[name]; err != nil {
		return err
	}
	m.status[name] = Up
	m.configs[name] = cfg
	return nil
}

func (m *Memory) Stop(ctx context.Context, name string) error {
	m.mu.Lock()
	m.stops++
	latency := m.latency
	m.mu.Unlock()

	if err := m.wait(ctx, nil, latency); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.stopErr[name]; err != nil {
		return err
	}
	delete(m.status, name)
	delete(m.configs, name)
	return nil
}

func (m *Memory) Status(ctx context.Context, name string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[name], nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
