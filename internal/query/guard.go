package query

import "sync/atomic"

// guard is the single-use evaluation flag embedded by comparison and group operations.
// An instance is armed while an Evaluation uses it; arming an armed instance fails.
type guard struct {
	armed atomic.Bool
}

func (g *guard) evalGuard() *guard { return g }

func (g *guard) arm() bool { return g.armed.CompareAndSwap(false, true) }

func (g *guard) disarm() { g.armed.Store(false) }

type guarded interface {
	Operation
	evalGuard() *guard
}

// armTree arms every guarded node of root. On failure all guards armed by
// this call are released again and a *ReuseError names the offending node.
func armTree(root Operation) ([]*guard, error) {
	var armed []*guard
	var reuse *ReuseError
	Walk(root, func(op Operation) bool {
		g, ok := op.(guarded)
		if !ok {
			return true
		}
		if !g.evalGuard().arm() {
			reuse = &ReuseError{Type: op.Kind().TypeName(), Op: op.String()}
			return false
		}
		armed = append(armed, g.evalGuard())
		return true
	})
	if reuse != nil {
		disarmAll(armed)
		return nil, reuse
	}
	return armed, nil
}

func disarmAll(guards []*guard) {
	for _, g := range guards {
		g.disarm()
	}
}

// Armed reports whether op is currently held by an Evaluation.
func Armed(op Operation) bool {
	g, ok := op.(guarded)
	return ok && g.evalGuard().armed.Load()
}
