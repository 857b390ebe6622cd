package dialogue

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/punchamoorthee/bettask/internal/domain"
)

const maxSessions = 4096

// SessionStore holds open sessions keyed by user id. Entries expire after
// the TTL so an abandoned flow never blocks the user forever.
type SessionStore struct {
	lru *expirable.LRU[domain.UserID, *Session]
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{
		lru: expirable.NewLRU[domain.UserID, *Session](maxSessions, nil, ttl),
	}
}

func (s *SessionStore) Get(id domain.UserID) (*Session, bool) {
	return s.lru.Get(id)
}

func (s *SessionStore) Put(sess *Session) {
	s.lru.Add(sess.UserID, sess)
}

func (s *SessionStore) Delete(id domain.UserID) {
	s.lru.Remove(id)
}

func (s *SessionStore) Len() int {
	return s.lru.Len()
}

// Drain discards every open session. Called at shutdown; sessions are
// deliberately volatile, so nothing is persisted.
func (s *SessionStore) Drain() {
	s.lru.Purge()
}
