package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitorFiresOnlyOnTransition(t *testing.T) {
	m := NewMonitor(false)
	var calls atomic.Int32
	m.OnOnline(func() { calls.Add(1) })

	m.SetOnline(true)
	assert.True(t, m.IsOnline())
	assert.Equal(t, int32(1), calls.Load())

	m.SetOnline(true)
	assert.Equal(t, int32(1), calls.Load(), "staying online is not a transition")

	m.SetOnline(false)
	assert.False(t, m.IsOnline())
	m.SetOnline(true)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMonitorStartingOnlineDoesNotFire(t *testing.T) {
	m := NewMonitor(true)
	var calls atomic.Int32
	m.OnOnline(func() { calls.Add(1) })

	m.SetOnline(true)
	assert.Equal(t, int32(0), calls.Load())
}

func TestMonitorUnsubscribe(t *testing.T) {
	m := NewMonitor(false)
	var calls atomic.Int32
	stop := m.OnOnline(func() { calls.Add(1) })
	stop()

	m.SetOnline(true)
	assert.Equal(t, int32(0), calls.Load())
}

func TestProber(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	m := NewMonitor(false)
	var restored atomic.Int32
	m.OnOnline(func() { restored.Add(1) })
	p := NewProber(srv.URL, m, time.Hour)
	ctx := context.Background()

	assert.False(t, p.Probe(ctx))
	assert.False(t, m.IsOnline())

	healthy.Store(true)
	assert.True(t, p.Probe(ctx))
	assert.True(t, m.IsOnline())
	assert.Equal(t, int32(1), restored.Load())

	srv.Close()
	assert.False(t, p.Probe(ctx))
	assert.False(t, m.IsOnline())
}

func TestProberRunStopsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	m := NewMonitor(false)
	p := NewProber(srv.URL, m, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
