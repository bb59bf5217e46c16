package notification

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrSelfNotification is returned when a user would notify themselves.
var ErrSelfNotification = errors.New("notification: sender and recipient are the same user")

// Store keeps notifications in memory, per recipient.
type Store struct {
	mu     sync.RWMutex
	byUser map[int64][]*Notification
	nextID int64
	now    func() time.Time
}

func NewStore() *Store {
	return &Store{
		byUser: make(map[int64][]*Notification),
		now:    time.Now,
	}
}

// Add stores n for n.UserID, assigning its ID and creation time, and returns
// the stored copy.
func (s *Store) Add(n Notification) (Notification, error) {
	if n.From.ID != 0 && n.From.ID == n.UserID {
		return Notification{}, ErrSelfNotification
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	n.ID = s.nextID
	n.Read = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	copy := n
	s.byUser[n.UserID] = append(s.byUser[n.UserID], &copy)
	return n, nil
}

// List returns one page of userID's notifications, newest first, and the
// total count. Pages are numbered from 1.
func (s *Store) List(userID int64, page, size int) ([]Notification, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byUser[userID]
	ordered := make([]*Notification, len(all))
	copy(ordered, all)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
		}
		return ordered[i].ID > ordered[j].ID
	})

	start := (page - 1) * size
	if start >= len(ordered) {
		return []Notification{}, len(ordered)
	}
	end := min(start+size, len(ordered))
	result := make([]Notification, 0, end-start)
	for _, n := range ordered[start:end] {
		result = append(result, *n)
	}
	return result, len(ordered)
}

func (s *Store) UnreadCount(userID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.byUser[userID] {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkRead marks one of userID's notifications read. It reports whether the
// notification exists for that user.
func (s *Store) MarkRead(userID, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.byUser[userID] {
		if n.ID == id {
			n.Read = true
			return true
		}
	}
	return false
}

// MarkAllRead marks every notification of userID read and returns how many changed.
func (s *Store) MarkAllRead(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, n := range s.byUser[userID] {
		if !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed
}
