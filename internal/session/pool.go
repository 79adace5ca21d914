package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/obs/logger"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/transport"
)

// ErrLastSessionProtected is returned by Disable when name is the pool's
// only session that is both enabled and logged in.
var ErrLastSessionProtected = fmt.Errorf("session: cannot disable the last logged-in session")

// ErrUnknownSession is returned by any Pool method given a name it does
// not manage.
var ErrUnknownSession = fmt.Errorf("session: unknown session name")

// PoolConfig threads construction-time parameters through explicitly,
// replacing the teacher's global mutable config singleton for domain
// settings (the REDESIGN FLAGS item on global config) — only the ambient
// .env/logger singletons remain process-global.
type PoolConfig struct {
	RateLimit *ratelimit.Controller
}

// entry is one managed session plus its enabled/disabled flag, distinct
// from Session.State which tracks the connection lifecycle.
type entry struct {
	session *Session
	enabled bool
}

// Pool owns every configured Session and enforces the sequential-login
// invariant (spec §4.2): at most one session may be in StateLoggingIn at
// any time, serialized by loginGate.
type Pool struct {
	cfg PoolConfig

	mu      sync.RWMutex
	entries map[model.SessionName]*entry

	loginGate chan struct{}
}

// New builds an empty Pool. Sessions are registered via Register before
// StartEnabled is called.
func New(cfg PoolConfig) *Pool {
	gate := make(chan struct{}, 1)
	gate <- struct{}{}
	return &Pool{
		cfg:       cfg,
		entries:   make(map[model.SessionName]*entry),
		loginGate: gate,
	}
}

// Register adds a session to the pool in the not_logged_in state, enabled
// or disabled according to enabled. Callers must
// Register every configured session before calling StartEnabled.
func (p *Pool) Register(name model.SessionName, client transport.Client, enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[name] = &entry{session: newSession(name, client), enabled: enabled}
}

// StartEnabled logs in every enabled session concurrently via an
// errgroup, serializing the actual login RPC per the sequential-login
// invariant. A failed login leaves that session in login_failed without
// aborting the others.
func (p *Pool) StartEnabled(ctx context.Context) error {
	p.mu.RLock()
	var toStart []*Session
	for _, e := range p.entries {
		if e.enabled {
			toStart = append(toStart, e.session)
		}
	}
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range toStart {
		s := s
		g.Go(func() error {
			select {
			case <-p.loginGate:
			case <-gctx.Done():
				return gctx.Err()
			}
			s.setState(StateLoggingIn)
			err := s.login(gctx)
			p.loginGate <- struct{}{}
			if err != nil {
				logger.Errorf("session %s: login failed: %v", s.Name, err)
				return nil // per-session failure, never aborts the group
			}
			logger.Infof("session %s: logged in (premium=%v)", s.Name, s.Identity().IsPremium)
			return nil
		})
	}
	return g.Wait()
}

// StopAll disconnects every session's Client, collecting but not aborting
// on individual disconnect errors.
func (p *Pool) StopAll(ctx context.Context) error {
	p.mu.RLock()
	sessions := make([]*Session, 0, len(p.entries))
	for _, e := range p.entries {
		sessions = append(sessions, e.session)
	}
	p.mu.RUnlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Client.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ListLoggedIn returns the sorted names of every session currently in
// StateLoggedIn, the set the Distributor and Fetcher may assign work to.
func (p *Pool) ListLoggedIn() []model.SessionName {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var names []model.SessionName
	for name, e := range p.entries {
		if e.session.State() == StateLoggedIn {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// loggedInCount returns how many enabled sessions currently hold
// StateLoggedIn; a disabled session does not count even while its
// connection is still up. Callers must already hold p.mu (read or write)
// — it reads p.entries directly instead of calling ListLoggedIn to avoid
// taking a second, non-reentrant RLock while Disable holds the write lock.
func (p *Pool) loggedInCount() int {
	n := 0
	for _, e := range p.entries {
		if e.enabled && e.session.State() == StateLoggedIn {
			n++
		}
	}
	return n
}

// Enable marks name enabled; does not itself trigger login — call
// StartEnabled to bring it online.
func (p *Pool) Enable(name model.SessionName) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		return ErrUnknownSession
	}
	e.enabled = true
	return nil
}

// Disable marks name disabled, refusing if it is the sole enabled
// logged-in session (spec §3, §4.1) — the actual danger is losing the last live
// connection, not the last enabled-but-possibly-never-started flag.
func (p *Pool) Disable(name model.SessionName) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[name]
	if !ok {
		return ErrUnknownSession
	}
	if e.session.State() == StateLoggedIn && p.loggedInCount() <= 1 {
		return ErrLastSessionProtected
	}
	e.enabled = false
	return nil
}

// SessionHandle is a leased reference to a Session, returned by Lease.
type SessionHandle struct {
	*Session
}

// Lease returns a handle to the named session if it is logged in.
func (p *Pool) Lease(ctx context.Context, name model.SessionName) (*SessionHandle, error) {
	p.mu.RLock()
	e, ok := p.entries[name]
	p.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	if e.session.State() != StateLoggedIn {
		return nil, fmt.Errorf("session: %s is not logged in (state=%s)", name, e.session.State())
	}
	return &SessionHandle{Session: e.session}, nil
}

// Get returns the session's current snapshot state without requiring it
// be logged in, used by the CLI shell's list command.
func (p *Pool) Get(name model.SessionName) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[name]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Names returns every registered session name, sorted.
func (p *Pool) Names() []model.SessionName {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]model.SessionName, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// RateLimit exposes the pool's shared controller for callers that need to
// admit operations outside a Session method.
func (p *Pool) RateLimit() *ratelimit.Controller {
	return p.cfg.RateLimit
}
