package cgs

import (
	"sort"
	"sync"

	"github.com/signalsfoundry/cgs-simulator/model"
)

type queuedRequest struct {
	req model.Request
	seq uint64
}

// PriorityQueue orders pending requests by priority (0 first), then
// submission time, then submission order.
type PriorityQueue struct {
	mu    sync.Mutex
	seq   uint64
	items []queuedRequest
}

func newPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.items)
}

func (pq *PriorityQueue) Push(req model.Request) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.seq++
	pq.items = append(pq.items, queuedRequest{req: req, seq: pq.seq})
}

// Pop removes and returns the next request.
func (pq *PriorityQueue) Pop() (model.Request, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.items) == 0 {
		return model.Request{}, false
	}
	pq.sortLocked()
	next := pq.items[0]
	pq.items = pq.items[1:]
	return next.req, true
}

func (pq *PriorityQueue) sortLocked() {
	sort.SliceStable(pq.items, func(i, j int) bool {
		a, b := pq.items[i], pq.items[j]
		if a.req.Priority != b.req.Priority {
			return a.req.Priority < b.req.Priority
		}
		if !a.req.SubmittedAt.Equal(b.req.SubmittedAt) {
			return a.req.SubmittedAt.Before(b.req.SubmittedAt)
		}
		return a.seq < b.seq
	})
}
