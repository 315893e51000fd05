package translator

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum interval between backend calls. One Pacer is
// shared by every job using the same client.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

func NewPacer(interval time.Duration) *Pacer {
	if interval < 0 {
		interval = 0
	}
	return &Pacer{interval: interval, now: time.Now}
}

// Wait blocks until a call may start and reserves that slot.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	now := p.now()
	start := p.next
	if start.Before(now) {
		start = now
	}
	p.next = start.Add(p.interval)
	p.mu.Unlock()

	delay := start.Sub(now)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		p.release(start)
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// release gives back a reserved slot that was never used, if nothing was
// reserved after it.
func (p *Pacer) release(slot time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next.Equal(slot.Add(p.interval)) {
		p.next = slot
	}
}
