package upload

import (
	"sync"
	"time"
)

// ProgressFunc receives upload progress percentages in [0,100].
type ProgressFunc func(percent int)

// progressEmitter ticks a simulated percentage while a transfer is pending.
// It never exceeds its ceiling; only the orchestrator reports 100, after Stop.
type progressEmitter struct {
	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

func startProgress(interval time.Duration, step, ceiling int, emit ProgressFunc) *progressEmitter {
	p := &progressEmitter{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if emit == nil || interval <= 0 {
		close(p.done)
		return p
	}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		current := 0
		emit(current)
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				if current >= ceiling {
					continue
				}
				current = min(current+step, ceiling)
				emit(current)
			}
		}
	}()
	return p
}

// Stop halts the emitter and waits until no further emission can happen.
// Safe to call more than once.
func (p *progressEmitter) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	<-p.done
}
