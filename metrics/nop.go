package metrics

import "time"

// Nop discards every metric. Used by tests and one-shot CLI runs.
type Nop struct{}

var _ Collector = (*Nop)(nil)

func NewNop() *Nop {
	return &Nop{}
}

func (n *Nop) TickCompleted(string, time.Duration) {}
func (n *Nop) EventEmitted(string)                 {}
func (n *Nop) GroupBudget(string, float64)         {}
func (n *Nop) GroupUsage(string, float64)          {}
func (n *Nop) RemainingSupply(float64)             {}
