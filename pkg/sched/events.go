package sched

import "sync"

// hookSet is an ordered, per-instance listener list. Emission walks a
// snapshot in subscription order; add returns an idempotent unsubscribe.
//
// There is deliberately no process-wide bus: every engine and group owns
// its listener lists.
type hookSet[F any] struct {
	mu   sync.Mutex
	seq  uint64
	list []hookEntry[F]
}

type hookEntry[F any] struct {
	id uint64
	fn F
}

func (h *hookSet[F]) add(fn F) (remove func()) {
	h.mu.Lock()
	h.seq++
	id := h.seq
	h.list = append(h.list, hookEntry[F]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *hookSet[F]) remove(id uint64) {
	h.mu.Lock()
	for i := range h.list {
		if h.list[i].id == id {
			h.list = append(h.list[:i], h.list[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
}

// snapshot returns the handlers in subscription order. Handlers added or
// removed during emission affect later emissions only.
func (h *hookSet[F]) snapshot() []F {
	h.mu.Lock()
	out := make([]F, len(h.list))
	for i := range h.list {
		out[i] = h.list[i].fn
	}
	h.mu.Unlock()
	return out
}
