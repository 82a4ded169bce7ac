package budget

import (
	"fmt"
	"sync"
	"time"
)

// Monitor tracks actual usage against configured limits during execution. Once a limit
// is breached the breach is sticky.
type Monitor struct {
	config     Config
	costUsed   float64
	tokensUsed int64
	calls      int
	startTime  time.Time
	exceeded   error
	mu         sync.Mutex
}

// NewMonitor clones the provided config and starts tracking usage.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		config:    cfg.Clone(),
		startTime: time.Now(),
	}
}

// Add records incremental cost and tokens, returning an error if any limit is breached.
func (m *Monitor) Add(cost float64, tokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costUsed += cost
	m.tokensUsed += tokens
	m.calls++
	if m.exceeded != nil {
		return m.exceeded
	}
	if m.config.MaxCost != nil && *m.config.MaxCost > 0 && m.costUsed > *m.config.MaxCost {
		m.exceeded = ErrExceeded{
			Kind:  "cost",
			Usage: fmt.Sprintf("$%.4f", m.costUsed),
			Limit: fmt.Sprintf("$%.4f", *m.config.MaxCost),
		}
		return m.exceeded
	}
	if m.config.MaxTokens != nil && *m.config.MaxTokens > 0 && m.tokensUsed > *m.config.MaxTokens {
		m.exceeded = ErrExceeded{
			Kind:  "tokens",
			Usage: fmt.Sprintf("%d tokens", m.tokensUsed),
			Limit: fmt.Sprintf("%d tokens", *m.config.MaxTokens),
		}
		return m.exceeded
	}
	return nil
}

// Exceeded returns the first breach, if any.
func (m *Monitor) Exceeded() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exceeded
}

// Usage returns the accumulated metrics.
func (m *Monitor) Usage() (cost float64, tokens int64, calls int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.costUsed, m.tokensUsed, m.calls, time.Since(m.startTime)
}

// Config returns a clone of the underlying budget config.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Clone()
}
