package conversation

import (
	"context"
	"sync"
)

type slot struct {
	ch   chan struct{}
	refs int
}

// Locker serializes chat exchanges per agent id. Different agents never
// contend with each other.
type Locker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func NewLocker() *Locker {
	return &Locker{slots: make(map[string]*slot)}
}

// Lock waits for exclusive access to agentID or for ctx to end. The returned
// func releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, agentID string) (func(), error) {
	// select picks at random when both cases are ready
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	s, ok := l.slots[agentID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[agentID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(agentID, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(agentID, s)
		return nil, ctx.Err()
	}
}

// Held reports how many agents currently have a holder or waiter.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *Locker) release(agentID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, agentID)
	}
}
