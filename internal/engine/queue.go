package engine

import (
	"log"
)

// enqueueLocked queues an operation for delivery. Operations with no
// targets are complete on arrival. A full channel spills to the overflow
// list, so an operation is never dropped; pending operations either get
// delivered or stay eligible for retry.
func (e *Engine) enqueueLocked(op *SyncOperation) {
	if len(op.Targets) == 0 {
		return
	}
	select {
	case e.pending <- op:
	default:
		e.spill(op)
	}
}

// requeue puts a partially delivered operation back for a later retry.
func (e *Engine) requeue(op *SyncOperation) {
	select {
	case e.pending <- op:
	default:
		e.spill(op)
	}
}

// spill parks an operation on the unbounded overflow list. Sustained spill
// means the drain loop cannot keep up; the growing pending count is the
// operator's signal.
func (e *Engine) spill(op *SyncOperation) {
	e.overflowMu.Lock()
	e.overflow = append(e.overflow, op)
	depth := len(e.overflow)
	e.overflowMu.Unlock()
	log.Printf("WARNING: pending queue full (size=%d), spilled %s operation for %s (overflow=%d)",
		e.config.QueueSize, op.Type, op.Key, depth)
}

// refill moves spilled operations back onto the channel while room remains.
func (e *Engine) refill() {
	e.overflowMu.Lock()
	defer e.overflowMu.Unlock()
	for len(e.overflow) > 0 {
		select {
		case e.pending <- e.overflow[0]:
			e.overflow[0] = nil
			e.overflow = e.overflow[1:]
		default:
			return
		}
	}
}

// overflowLen returns the number of spilled operations.
func (e *Engine) overflowLen() int {
	e.overflowMu.Lock()
	defer e.overflowMu.Unlock()
	return len(e.overflow)
}
