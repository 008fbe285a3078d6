package settings

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// Change is one committed field write.
type Change struct {
	Field string    `json:"field"`
	Value uint8     `json:"value"`
	Time  time.Time `json:"time"`
}

// Journal keeps the most recent committed writes, oldest first. It
// lives in memory only.
type Journal struct {
	mu       sync.Mutex
	entries  deque.Deque[Change]
	capacity int
}

// NewJournal keeps at most capacity changes; zero disables recording.
func NewJournal(capacity int) *Journal {
	j := &Journal{capacity: capacity}
	j.entries.Grow(capacity)
	return j
}

func (j *Journal) record(c Change) {
	if j == nil || j.capacity <= 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.entries.Len() == j.capacity {
		j.entries.PopFront()
	}
	j.entries.PushBack(c)
}

// Recent returns a copy of the journal, oldest entry first.
func (j *Journal) Recent() []Change {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	ret := make([]Change, j.entries.Len())
	for i := range ret {
		ret[i] = j.entries.At(i)
	}
	return ret
}
