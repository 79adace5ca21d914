// Package session owns the Session and Pool types (spec §4.1, §4.2):
// per-account remote-service credentials, liveness state, and the
// scratch-handle ledger used by the forward pipeline. A Pool coordinates
// many Sessions, including the sequential-login invariant and silent
// re-login on startup.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/transport"
)

// State is a Session's lifecycle state (spec §4.1).
type State int

const (
	StateDisabled State = iota
	StateNotLoggedIn
	StateLoggingIn
	StateLoggedIn
	StateLoginFailed
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateNotLoggedIn:
		return "not_logged_in"
	case StateLoggingIn:
		return "logging_in"
	case StateLoggedIn:
		return "logged_in"
	case StateLoginFailed:
		return "login_failed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is one remote-service account under the Pool's management.
// Mutable fields are guarded by mu; the Client itself manages its own
// concurrency.
type Session struct {
	Name   model.SessionName
	Client transport.Client

	mu         sync.RWMutex
	state      State
	lastActive time.Time
	identity   transport.Identity
	lastErr    error

	// Scratch holds the bbolt-backed ledger of outstanding ScratchHandles
	// this session owns in forward mode; nil until a ledger is attached.
	Scratch *Ledger
}

func newSession(name model.SessionName, client transport.Client) *Session {
	return &Session{Name: name, Client: client, state: StateNotLoggedIn}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setError(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the last time this session logged in or was admitted
// by the rate-limit controller for an operation.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Identity returns the cached SelfIdentity recorded at login.
func (s *Session) Identity() transport.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// CaptionLimit returns this session's caption length cap, 4096 for premium
// accounts and 1024 otherwise (spec §4.7).
func (s *Session) CaptionLimit() int {
	if s.Identity().IsPremium {
		return 4096
	}
	return 1024
}

// LastError returns the cause recorded the last time this session
// transitioned to login_failed or error.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// login connects the session's Client, records its identity, and marks it
// logged_in — or login_failed with the wrapped cause on any failure.
func (s *Session) login(ctx context.Context) error {
	if err := s.Client.Connect(ctx); err != nil {
		s.setError(StateLoginFailed, err)
		return err
	}
	identity, err := s.Client.SelfIdentity(ctx)
	if err != nil {
		s.setError(StateLoginFailed, err)
		return err
	}
	s.mu.Lock()
	s.identity = identity
	s.state = StateLoggedIn
	s.lastActive = time.Now()
	s.mu.Unlock()
	return nil
}

// Admit blocks until rate-limit controller c admits one op of class class
// for this session, then records activity on success so LastActive
// reflects real traffic rather than only the most recent login.
func (s *Session) Admit(ctx context.Context, c *ratelimit.Controller, class ratelimit.OpClass) error {
	if err := c.Admit(ctx, class, string(s.Name)); err != nil {
		return err
	}
	s.touch()
	return nil
}
