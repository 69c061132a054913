package hub

// PortfolioWatch is a single-slot coalescing change signal: any number of
// Notify calls between two Changed reads collapse into one wakeup. A
// session uses this to know when to re-fetch and re-push its own
// portfolio without the dispatcher needing to hand it a copy on every
// balance-moving event.
type PortfolioWatch struct {
	ch chan struct{}
}

func NewPortfolioWatch() *PortfolioWatch {
	return &PortfolioWatch{ch: make(chan struct{}, 1)}
}

// Notify wakes up a pending Changed receiver, or leaves the slot already
// full if one is pending.
func (w *PortfolioWatch) Notify() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// Changed returns the channel to select on; a receive means the
// portfolio has changed at least once since the last receive.
func (w *PortfolioWatch) Changed() <-chan struct{} {
	return w.ch
}
