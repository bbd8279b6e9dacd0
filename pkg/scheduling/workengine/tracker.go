package workengine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkInfo is a snapshot of an in-flight item.
type WorkInfo struct {
	ID         uuid.UUID
	Name       string
	Policy     string
	AcceptedAt time.Time
	Started    bool
}

// tracker keeps the items that were accepted and have not finished.
type tracker struct {
	mu    sync.Mutex
	items map[uuid.UUID]*WorkItem
}

func newTracker() *tracker {
	return &tracker{items: make(map[uuid.UUID]*WorkItem)}
}

func (t *tracker) add(it *WorkItem) {
	t.mu.Lock()
	t.items[it.id] = it
	t.mu.Unlock()
}

func (t *tracker) remove(it *WorkItem) {
	t.mu.Lock()
	delete(t.items, it.id)
	t.mu.Unlock()
}

func (t *tracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *tracker) snapshot() []WorkInfo {
	t.mu.Lock()
	items := make([]*WorkItem, 0, len(t.items))
	for _, it := range t.items {
		items = append(items, it)
	}
	t.mu.Unlock()

	infos := make([]WorkInfo, 0, len(items))
	for _, it := range items {
		infos = append(infos, WorkInfo{
			ID:         it.id,
			Name:       it.name,
			Policy:     it.policy.String(),
			AcceptedAt: it.AcceptedAt(),
			Started:    it.IsStarted(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].AcceptedAt.Before(infos[j].AcceptedAt)
	})
	return infos
}
