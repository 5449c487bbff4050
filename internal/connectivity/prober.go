// Package connectivity produces the online/offline signal by probing the
// remote authority's health endpoint.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// HealthChecker reports whether the remote authority is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Listener receives the connectivity signal. It is called after every probe,
// so implementations must tolerate repeated values.
type Listener interface {
	SetOnline(online bool)
}

// Prober periodically checks the remote authority and reports the result.
type Prober struct {
	checker  HealthChecker
	listener Listener
	interval time.Duration
	timeout  time.Duration

	mu        sync.RWMutex
	online    bool
	lastProbe time.Time
	lastError string
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewProber creates a prober. Zero durations take the package defaults.
func NewProber(checker HealthChecker, listener Listener, interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		checker:  checker,
		listener: listener,
		interval: interval,
		timeout:  timeout,
	}
}

// Start probes immediately and then every interval until ctx ends or Stop is
// called.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.Probe(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				p.Probe(loopCtx)
			}
		}
	}()
	log.Printf("[CONNECTIVITY] Probing every %s", p.interval)
}

// Stop ends probing and waits for an in-progress probe.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Probe checks the authority once, records and reports the result.
func (p *Prober) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.checker.Health(probeCtx)
	if ctx.Err() != nil {
		return p.IsOnline()
	}
	online := err == nil

	p.mu.Lock()
	changed := p.online != online || p.lastProbe.IsZero()
	p.online = online
	p.lastProbe = time.Now()
	p.lastError = ""
	if err != nil {
		p.lastError = err.Error()
	}
	p.mu.Unlock()

	if changed {
		if online {
			log.Printf("[CONNECTIVITY] Remote authority reachable")
		} else {
			log.Printf("[CONNECTIVITY] Remote authority unreachable: %v", err)
		}
	}
	if p.listener != nil {
		p.listener.SetOnline(online)
	}
	return online
}

// Status is a snapshot of the last probe.
type Status struct {
	Online    bool      `json:"online"`
	LastProbe time.Time `json:"last_probe"`
	LastError string    `json:"last_error,omitempty"`
}

// Status returns the last probe result.
func (p *Prober) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{Online: p.online, LastProbe: p.lastProbe, LastError: p.lastError}
}

// IsOnline returns the last probe result.
func (p *Prober) IsOnline() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online
}
