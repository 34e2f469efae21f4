package rank

import "github.com/poiesic/docquery/core"

// Monitor provides hooks to observe the fusion process.
// Implement this interface to track intermediate steps during a search.
type Monitor interface {
	Start(query string)
	AfterSignal(name string, candidates int, err error)
	AfterFusion(fused int)
	Finish(hits []core.FusedHit)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                       {}
func (n *noopMonitor) AfterSignal(_ string, _ int, _ error) {}
func (n *noopMonitor) AfterFusion(_ int)                    {}
func (n *noopMonitor) Finish(_ []core.FusedHit)             {}
