package arena

import "sync"

// Queue holds connections waiting for an opponent. Pairing is strictly FIFO:
// the earliest waiter is always matched with the next arrival.
type Queue struct {
	mu      sync.Mutex
	waiting []string
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue adds a connection. When another connection is already waiting the
// head is popped and returned as white, the newcomer as black. A connection
// already queued is rejected rather than queued twice.
func (q *Queue) Enqueue(connID string) (white, black string, paired bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.waiting {
		if id == connID {
			return "", "", false, ErrQueueBusy
		}
	}
	if len(q.waiting) > 0 {
		white = q.waiting[0]
		q.waiting = q.waiting[1:]
		return white, connID, true, nil
	}
	q.waiting = append(q.waiting, connID)
	return "", "", false, nil
}

// Remove drops a connection from the queue. Absence is not an error.
func (q *Queue) Remove(connID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.waiting {
		if id == connID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return
		}
	}
}

// Len reports how many connections are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}
