package poller

import "sync"

// UserLimiter ensures that only one fetch per user is running at any given time.
type UserLimiter struct {
	mu    sync.Mutex
	users map[string]struct{}
}

// NewUserLimiter creates a new UserLimiter.
func NewUserLimiter() *UserLimiter {
	return &UserLimiter{
		users: make(map[string]struct{}),
	}
}

// Acquire attempts to acquire the slot for a user.
// It returns true if the slot was acquired, and false otherwise.
func (l *UserLimiter) Acquire(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.users[username]; exists {
		return false // A fetch for this user is still in flight.
	}

	l.users[username] = struct{}{}
	return true
}

// Release frees the slot for a user.
func (l *UserLimiter) Release(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, username)
}
