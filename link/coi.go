package link

import (
	"fmt"
	"sync"

	"github.com/juju/errors"
)

var ErrCorrelationUnderflow = fmt.Errorf("correlation queue underflow")

// CoiQueue pairs received tasks with answers strictly in order.
// There is no correlation id in answer path, so out of order completion is not supported.
type CoiQueue struct {
	mu sync.Mutex
	q  []int8
}

func (q *CoiQueue) Enqueue(coi int8) {
	q.mu.Lock()
	q.q = append(q.q, coi)
	q.mu.Unlock()
}

// Dequeue on empty queue means more answers than commands, it is a logic error.
func (q *CoiQueue) Dequeue() (int8, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.q) == 0 {
		return 0, errors.Trace(ErrCorrelationUnderflow)
	}
	coi := q.q[0]
	q.q[0] = 0
	q.q = q.q[1:]
	if len(q.q) == 0 {
		q.q = nil
	}
	return coi, nil
}

func (q *CoiQueue) MustDequeue() int8 {
	coi, err := q.Dequeue()
	if err != nil {
		panic(err)
	}
	return coi
}

func (q *CoiQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.q)
}
