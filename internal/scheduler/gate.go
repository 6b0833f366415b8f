package scheduler

import "sync/atomic"

// gateController is a single boolean admission flag. Closing it
// rejects enqueueTask while in-flight work drains; opening it is
// side-effect free besides resuming acceptance.
type gateController struct {
	open atomic.Bool
}

func newGateController() *gateController {
	g := &gateController{}
	g.open.Store(true)
	return g
}

func (g *gateController) set(v bool)   { g.open.Store(v) }
func (g *gateController) isOpen() bool { return g.open.Load() }
