package auth

import "sync"

// State is the in-process authentication state. The API client reports
// unrecoverable refresh failures to it through Logout.
type State struct {
	mu            sync.RWMutex
	authenticated bool
	user          User
	listeners     []func()
}

func NewState() *State {
	return &State{}
}

func (s *State) MarkAuthenticated(user User) {
	s.mu.Lock()
	s.authenticated = true
	s.user = user
	s.mu.Unlock()
}

// Logout resets the state and notifies subscribers. Subscribers run only when
// the state was authenticated, so repeated calls notify once.
func (s *State) Logout() {
	s.mu.Lock()
	wasAuthenticated := s.authenticated
	s.authenticated = false
	s.user = User{}
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	if !wasAuthenticated {
		return
	}
	for _, fn := range listeners {
		fn()
	}
}

func (s *State) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// User returns the signed-in user and whether one is present.
func (s *State) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.authenticated
}

// Subscribe registers fn to run after every transition to logged out.
func (s *State) Subscribe(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}
