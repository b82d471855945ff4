package history

import "sync"

// MemoryStore is an in-process Store. Each user's log has its own lock.
type MemoryStore struct {
	retention int

	mu    sync.RWMutex
	users map[int64]*userLog
}

type userLog struct {
	mu   sync.Mutex
	msgs []Message
}

// NewMemoryStore creates a store keeping retention messages per user.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{retention: retention, users: make(map[int64]*userLog)}
}

func (s *MemoryStore) log(userID int64) *userLog {
	s.mu.RLock()
	l, ok := s.users[userID]
	s.mu.RUnlock()
	if ok {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.users[userID]; !ok {
		l = &userLog{}
		s.users[userID] = l
	}
	return l
}

func (s *MemoryStore) Append(userID int64, msgs ...Message) error {
	l := s.log(userID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msgs...)
	if over := len(l.msgs) - s.retention; over > 0 {
		l.msgs = append([]Message(nil), l.msgs[over:]...)
	}
	return nil
}

func (s *MemoryStore) Recent(userID int64, k int) ([]Message, error) {
	if k <= 0 {
		return nil, nil
	}
	l := s.log(userID)
	l.mu.Lock()
	defer l.mu.Unlock()
	start := len(l.msgs) - k
	if start < 0 {
		start = 0
	}
	return append([]Message(nil), l.msgs[start:]...), nil
}

func (s *MemoryStore) Clear(userID int64) error {
	l := s.log(userID)
	l.mu.Lock()
	l.msgs = nil
	l.mu.Unlock()
	return nil
}
