// Package connectivity tracks whether the save server is reachable and
// announces when it becomes reachable again.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Monitor holds the online state. Listeners registered with OnOnline run on
// every offline-to-online transition, never merely because the state is
// online.
type Monitor struct {
	online atomic.Bool

	mu        sync.Mutex
	listeners map[int]func()
	nextID    int
}

func NewMonitor(online bool) *Monitor {
	m := &Monitor{listeners: make(map[int]func())}
	m.online.Store(online)
	return m
}

func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline records the current state. Listeners run synchronously on the
// caller's goroutine when the state flips to online.
func (m *Monitor) SetOnline(online bool) {
	if !online {
		if m.online.CompareAndSwap(true, false) {
			logrus.Info("Connectivity lost")
		}
		return
	}
	if !m.online.CompareAndSwap(false, true) {
		return
	}

	logrus.Info("Connectivity restored")
	m.mu.Lock()
	fns := make([]func(), 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// OnOnline registers fn for online transitions and returns a func that
// removes it.
func (m *Monitor) OnOnline(fn func()) func() {
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

// Prober feeds a Monitor from periodic HEAD requests against a health URL.
type Prober struct {
	url      string
	client   *http.Client
	interval time.Duration
	monitor  *Monitor
}

func NewProber(url string, monitor *Monitor, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: interval,
		monitor:  monitor,
	}
}

// Probe checks the health URL once and updates the monitor.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	p.monitor.SetOnline(online)
	return online
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		logrus.WithError(err).WithField("url", p.url).Error("Invalid health check URL")
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logrus.WithError(err).WithField("url", p.url).Debug("Health check failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
