package invalidation

import (
	"context"
	"sync"
	"time"
)

// Poller calls its trigger on a fixed interval until stopped.
type Poller struct {
	interval time.Duration
	trigger  func()
	logger   Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller. It does nothing until Start.
func NewPoller(interval time.Duration, trigger func(), logger Logger) *Poller {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Poller{interval: interval, trigger: trigger, logger: logger}
}

// Start begins ticking. Calling Start on a running poller restarts it.
func (p *Poller) Start(ctx context.Context) {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done

	go p.run(ctx, done)
	p.logger.Debug("poller started", "interval", p.interval)
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fire()
		}
	}
}

func (p *Poller) fire() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poll trigger panicked", "panic", r)
		}
	}()
	p.trigger()
}

// Stop halts the poller and waits for an in-progress trigger to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
