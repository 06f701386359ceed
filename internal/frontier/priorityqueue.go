package frontier

import (
	"container/heap"

	"github.com/webants/webants/internal/request"
)

// queueItem is one entry in the frontier's priority queue: a Request
// plus the ordering key it was admitted with. insertionSeq breaks ties
// between equal priorities, FIFO.
type queueItem struct {
	req          *request.Request
	priority     int
	insertionSeq uint64
	host         string
}

// priorityQueue is a container/heap.Interface min-heap ordered by
// (priority, insertionSeq) ascending, so Pop always returns the request
// with the smallest priority, ties broken by earliest admission.
type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].insertionSeq < pq[j].insertionSeq
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) {
	*pq = append(*pq, x.(*queueItem))
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityQueue)(nil)

// heapPush and heapPop wrap container/heap so callers don't need to
// remember to call heap.Init or pass *priorityQueue around explicitly.
func heapPush(pq *priorityQueue, item *queueItem) {
	heap.Push(pq, item)
}

func heapPop(pq *priorityQueue) *queueItem {
	return heap.Pop(pq).(*queueItem)
}
