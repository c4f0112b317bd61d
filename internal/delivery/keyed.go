package delivery

import "sync"

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// chatLocks hands out one mutex per chat id. Entries are dropped once no
// goroutine holds or waits for them.
type chatLocks struct {
	mu    sync.Mutex
	locks map[int]*chatLock
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[int]*chatLock)}
}

// Lock acquires the mutex for chatID and returns its release func.
func (k *chatLocks) Lock(chatID int) func() {
	k.mu.Lock()
	l, ok := k.locks[chatID]
	if !ok {
		l = &chatLock{}
		k.locks[chatID] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, chatID)
		}
		k.mu.Unlock()
	}
}

func (k *chatLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
