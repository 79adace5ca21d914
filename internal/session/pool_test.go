package session_test

import (
	"context"
	"testing"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/session"
	"github.com/lbj9527/tgrelay/internal/transport"
)

// fakeClient is a minimal transport.Client stub for exercising Pool's
// login/state-machine logic without a real remote connection.
type fakeClient struct {
	connectErr error
	identity   transport.Identity
}

func (f *fakeClient) Connect(ctx context.Context) error    { return f.connectErr }
func (f *fakeClient) Disconnect(ctx context.Context) error { return nil }
func (f *fakeClient) SelfIdentity(ctx context.Context) (transport.Identity, error) {
	return f.identity, nil
}
func (f *fakeClient) FetchMessages(ctx context.Context, channel model.ChannelID, startID, endID model.MessageID) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeClient) DownloadMediaSmall(ctx context.Context, ref model.MediaRef) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) StreamMedia(ctx context.Context, ref model.MediaRef) (transport.MediaStream, error) {
	return nil, nil
}
func (f *fakeClient) SendMedia(ctx context.Context, destination model.ChannelID, msg model.Message) (transport.UploadedMedia, error) {
	return transport.UploadedMedia{}, nil
}
func (f *fakeClient) SendMediaGroup(ctx context.Context, destination model.ChannelID, handles []transport.UploadedMedia, caption string) ([]model.MessageID, error) {
	return nil, nil
}
func (f *fakeClient) DeleteMessages(ctx context.Context, chat model.ChannelID, ids []model.MessageID) error {
	return nil
}

var _ transport.Client = (*fakeClient)(nil)

func TestPool_StartEnabled_LoginsEnabledSessionsOnly(t *testing.T) {
	t.Parallel()

	p := session.New(session.PoolConfig{})
	p.Register("a", &fakeClient{}, true)
	p.Register("b", &fakeClient{}, false)

	if err := p.StartEnabled(context.Background()); err != nil {
		t.Fatalf("StartEnabled() error = %v", err)
	}

	loggedIn := p.ListLoggedIn()
	if len(loggedIn) != 1 || loggedIn[0] != "a" {
		t.Fatalf("ListLoggedIn() = %v, want [a]", loggedIn)
	}
}

func TestPool_StartEnabled_FailedLoginDoesNotAbortOthers(t *testing.T) {
	t.Parallel()

	p := session.New(session.PoolConfig{})
	p.Register("a", &fakeClient{connectErr: context.DeadlineExceeded}, true)
	p.Register("b", &fakeClient{}, true)

	if err := p.StartEnabled(context.Background()); err != nil {
		t.Fatalf("StartEnabled() error = %v", err)
	}

	sessA, _ := p.Get("a")
	sessB, _ := p.Get("b")
	if sessA.State() != session.StateLoginFailed {
		t.Fatalf("session a state = %v, want login_failed", sessA.State())
	}
	if sessB.State() != session.StateLoggedIn {
		t.Fatalf("session b state = %v, want logged_in", sessB.State())
	}
}

func TestPool_Disable_ProtectsSoleLoggedInSession(t *testing.T) {
	t.Parallel()

	p := session.New(session.PoolConfig{})
	p.Register("a", &fakeClient{}, true)

	if err := p.StartEnabled(context.Background()); err != nil {
		t.Fatalf("StartEnabled() error = %v", err)
	}

	if err := p.Disable("a"); err != session.ErrLastSessionProtected {
		t.Fatalf("Disable() error = %v, want ErrLastSessionProtected", err)
	}
}

func TestPool_Disable_AllowsWhenAnotherIsLoggedIn(t *testing.T) {
	t.Parallel()

	p := session.New(session.PoolConfig{})
	p.Register("a", &fakeClient{}, true)
	p.Register("b", &fakeClient{}, true)

	if err := p.StartEnabled(context.Background()); err != nil {
		t.Fatalf("StartEnabled() error = %v", err)
	}

	if err := p.Disable("a"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
}

// Regression for the distinction between "connected" and "available for
// work": b logs in and is then disabled, so it is no longer a backstop for
// the last-session guard — disabling a, now the pool's only enabled
// logged-in session, must be refused.
func TestPool_Disable_ProtectsSoleLoggedInEvenWithAnotherDisabled(t *testing.T) {
	t.Parallel()

	p := session.New(session.PoolConfig{})
	p.Register("a", &fakeClient{}, true)
	p.Register("b", &fakeClient{}, true)

	if err := p.StartEnabled(context.Background()); err != nil {
		t.Fatalf("StartEnabled() error = %v", err)
	}
	if err := p.Disable("b"); err != nil {
		t.Fatalf("Disable(b) error = %v", err)
	}

	if err := p.Disable("a"); err != session.ErrLastSessionProtected {
		t.Fatalf("Disable(a) error = %v, want ErrLastSessionProtected (a is the sole logged-in session)", err)
	}
}

func TestPool_Disable_AllowsWhenNeverLoggedIn(t *testing.T) {
	t.Parallel()

	p := session.New(session.PoolConfig{})
	p.Register("a", &fakeClient{}, true)
	p.Register("b", &fakeClient{}, true)

	// Neither session has been started, so neither is logged in yet;
	// disabling one should not trip the sole-logged-in guard.
	if err := p.Disable("a"); err != nil {
		t.Fatalf("Disable() error = %v, want nil (no session is logged in yet)", err)
	}
}

func TestPool_UnknownSession(t *testing.T) {
	t.Parallel()

	p := session.New(session.PoolConfig{})
	if err := p.Enable("ghost"); err != session.ErrUnknownSession {
		t.Fatalf("Enable() error = %v, want ErrUnknownSession", err)
	}
	if err := p.Disable("ghost"); err != session.ErrUnknownSession {
		t.Fatalf("Disable() error = %v, want ErrUnknownSession", err)
	}
	if _, err := p.Lease(context.Background(), "ghost"); err != session.ErrUnknownSession {
		t.Fatalf("Lease() error = %v, want ErrUnknownSession", err)
	}
}

func TestPool_Lease_RequiresLoggedIn(t *testing.T) {
	t.Parallel()

	p := session.New(session.PoolConfig{})
	p.Register("a", &fakeClient{}, false)

	if _, err := p.Lease(context.Background(), "a"); err == nil {
		t.Fatal("Lease() on a not-logged-in session returned nil error")
	}
}
