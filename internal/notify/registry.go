package notify

import "sync"

// socketIndex holds the live sockets of each user. Ready events are addressed
// by user, so there is no lookup by connection id.
type socketIndex struct {
	mu    sync.RWMutex
	users map[string]map[*Connection]struct{}
	total int
}

func newSocketIndex() *socketIndex {
	return &socketIndex{users: make(map[string]map[*Connection]struct{})}
}

func (s *socketIndex) add(conn *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.users[conn.UserID]
	if !ok {
		set = make(map[*Connection]struct{})
		s.users[conn.UserID] = set
	}
	if _, dup := set[conn]; !dup {
		set[conn] = struct{}{}
		s.total++
	}
}

// remove reports whether conn was indexed, so callers can tear it down once
func (s *socketIndex) remove(conn *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.users[conn.UserID]
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(s.users, conn.UserID)
	}
	s.total--
	return true
}

func (s *socketIndex) forUser(userID string) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Connection, 0, len(s.users[userID]))
	for conn := range s.users[userID] {
		out = append(out, conn)
	}
	return out
}

func (s *socketIndex) snapshot() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Connection, 0, s.total)
	for _, set := range s.users {
		for conn := range set {
			out = append(out, conn)
		}
	}
	return out
}

func (s *socketIndex) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (s *socketIndex) countUser(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID])
}
