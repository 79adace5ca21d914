// Package transport defines the boundary between the engine and the remote
// chat service. Every other package depends only on the Client interface
// below; internal/transport/gotdclient is the sole concrete adapter and the
// only place the engine imports the remote service's RPC call surface.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/lbj9527/tgrelay/internal/errs"
	"github.com/lbj9527/tgrelay/internal/model"
)

// Identity describes the account a Session is authenticated as.
type Identity struct {
	UserID    int64
	Username  string
	IsPremium bool // drives the 1024/4096 caption cap (spec §4.7)
}

// MediaStream is returned by StreamMedia for large files; callers must
// Close it once done reading.
type MediaStream interface {
	io.ReadCloser
	Size() int64
}

// UploadedMedia is the handle a SendMedia/SendMediaGroup call leaves behind
// once the remote service has accepted the payload.
type UploadedMedia struct {
	RemoteID   model.MessageID
	Identifier string
}

// Client is the transport boundary every other package programs against
// (spec §6). Exactly one adapter, gotdclient.Client, implements it.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SelfIdentity(ctx context.Context) (Identity, error)

	// FetchMessages returns messages for ids in [startID,endID] found in
	// channel; missing ids are silently omitted from the result (spec §5.3).
	FetchMessages(ctx context.Context, channel model.ChannelID, startID, endID model.MessageID) ([]model.Message, error)

	// DownloadMediaSmall fully downloads media under the small-file
	// threshold into memory.
	DownloadMediaSmall(ctx context.Context, ref model.MediaRef) ([]byte, error)
	// StreamMedia opens a streaming reader for large media.
	StreamMedia(ctx context.Context, ref model.MediaRef) (MediaStream, error)

	// SendMedia uploads one message's media into destination, returning a
	// handle usable by SendMediaGroup or DeleteMessages.
	SendMedia(ctx context.Context, destination model.ChannelID, msg model.Message) (UploadedMedia, error)
	// SendMediaGroup sends a compatible batch of already-uploaded media in
	// one call, attaching caption to the first item.
	SendMediaGroup(ctx context.Context, destination model.ChannelID, handles []UploadedMedia, caption string) ([]model.MessageID, error)

	DeleteMessages(ctx context.Context, chat model.ChannelID, ids []model.MessageID) error
}

// Unauthorized is returned when a session's credentials are no longer
// valid (spec §7); the session transitions to login_failed.
type Unauthorized struct{ Cause error }

func (e *Unauthorized) Error() string { return "unauthorized: " + e.Cause.Error() }
func (e *Unauthorized) Unwrap() error { return e.Cause }
func (e *Unauthorized) Kind() errs.Kind { return errs.KindAuthorisation }

// ChannelPrivate is returned when the remote channel cannot be resolved or
// accessed by the acting session.
type ChannelPrivate struct{ Channel model.ChannelID }

func (e *ChannelPrivate) Error() string {
	return "channel inaccessible"
}
func (e *ChannelPrivate) Kind() errs.Kind { return errs.KindAuthorisation }

// RateLimited wraps a server-issued flood-wait, mirrored here so transport
// implementations don't need to import internal/ratelimit directly.
type RateLimited struct{ Wait time.Duration }

func (e *RateLimited) Error() string           { return "rate limited: wait " + e.Wait.String() }
func (e *RateLimited) Kind() errs.Kind         { return errs.KindRateLimit }
func (e *RateLimited) WaitDuration() time.Duration { return e.Wait }
