package store

// history is the append-only log for one entry kind, partitioned by session.
// Entries within a partition are kept in insertion order, which is also id and timestamp order.
type history[T any] struct {
	nextID    int64
	bySession map[int64][]T
	orphans   []T
}

func newHistory[T any]() *history[T] {
	return &history[T]{nextID: 1, bySession: make(map[int64][]T)}
}

func (h *history[T]) allocID() int64 {
	id := h.nextID
	h.nextID++
	return id
}

func (h *history[T]) add(sessionID *int64, entry T, retention int) {
	if sessionID == nil {
		h.orphans = keepLast(append(h.orphans, entry), retention)
		return
	}
	h.bySession[*sessionID] = keepLast(append(h.bySession[*sessionID], entry), retention)
}

// recent copies the newest limit entries of a session, oldest first.
func (h *history[T]) recent(sessionID int64, limit int) []T {
	list := h.bySession[sessionID]
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]T, len(list))
	copy(out, list)
	return out
}

func (h *history[T]) all(sessionID int64) []T {
	return h.bySession[sessionID]
}

func keepLast[T any](list []T, n int) []T {
	if n > 0 && len(list) > n {
		return list[len(list)-n:]
	}
	return list
}
