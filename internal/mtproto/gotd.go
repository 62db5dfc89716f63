package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/m3rciful/numbershop/core/buildinfo"
	"github.com/m3rciful/numbershop/core/logger"
)

// RPC errors meaning the session no longer authenticates.
var revokedTypes = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
	"USER_DEACTIVATED_BAN",
}

func isRevoked(err error) bool {
	if tgerr.Is(err, revokedTypes...) {
		return true
	}
	if rpcErr, ok := tgerr.As(err); ok && rpcErr.Code == 401 {
		return true
	}
	return false
}

// classify wraps a call error: revoked sessions become AUTH_REVOKED, the rest TRANSIENT_PROTOCOL.
func classify(op, phone string, err error) error {
	if err == nil {
		return nil
	}
	if isRevoked(err) {
		return fault(KindAuthRevoked, op, phone, err)
	}
	return fault(KindTransientProtocol, op, phone, err)
}

// GotdDialer resumes sessions with github.com/gotd/td.
type GotdDialer struct {
	APIID   int
	APIHash string
}

// NewGotdDialer returns a dialer for the given application credentials.
func NewGotdDialer(apiID int, apiHash string) *GotdDialer {
	return &GotdDialer{APIID: apiID, APIHash: apiHash}
}

// Dial starts a client on the stored session and waits until it is ready.
// ctx bounds the dial only; the connection lives until Close.
func (d *GotdDialer) Dial(ctx context.Context, cred Credential, observer func(Message)) (Conn, error) {
	parsed, err := ParseSession(cred.Session)
	if err != nil {
		return nil, fault(KindConnectionFailure, "dial", cred.Phone, err)
	}
	storage := new(session.StorageMemory)
	if err := (&session.Loader{Storage: storage}).Save(ctx, parsed.Data); err != nil {
		return nil, fault(KindConnectionFailure, "dial", cred.Phone, fmt.Errorf("load session: %w", err))
	}

	opts := telegram.Options{
		SessionStorage: storage,
		NoUpdates:      observer == nil,
		Device: telegram.DeviceConfig{
			DeviceModel:   "numbershop",
			SystemVersion: "linux",
			AppVersion:    buildinfo.Version,
		},
	}
	if observer != nil {
		dispatcher := tg.NewUpdateDispatcher()
		dispatcher.OnNewMessage(func(_ context.Context, _ tg.Entities, u *tg.UpdateNewMessage) error {
			if m, ok := toMessage(u.Message); ok {
				observer(m)
			}
			return nil
		})
		opts.UpdateHandler = dispatcher
	}

	client := telegram.NewClient(d.APIID, d.APIHash, opts)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &gotdConn{
		client: client,
		api:    client.API(),
		phone:  cred.Phone,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ready := make(chan struct{})
	go func() {
		defer close(c.done)
		c.runErr = client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
	case <-c.done:
		cancel()
		return nil, fault(KindConnectionFailure, "dial", cred.Phone, c.runErr)
	case <-ctx.Done():
		cancel()
		<-c.done
		return nil, fault(KindConnectionFailure, "dial", cred.Phone, ctx.Err())
	}

	if _, err := c.Self(ctx); errors.Is(err, ErrAuthRevoked) {
		_ = c.Close()
		return nil, fault(KindConnectionFailure, "dial", cred.Phone, err)
	}
	logger.Debug(ctx, "mtproto", "dial",
		slog.String("status", "ok"),
		logger.Phone(cred.Phone),
		slog.String("format", parsed.Format),
		slog.Int("dc", parsed.Data.DC),
	)
	return c, nil
}

type gotdConn struct {
	client *telegram.Client
	api    *tg.Client
	phone  string

	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	closeOnce sync.Once
	// peers caches access hashes resolved from the dialog list.
	peers map[int64]int64
}

func (c *gotdConn) Self(ctx context.Context) (Identity, error) {
	u, err := c.client.Self(ctx)
	if err != nil {
		return Identity{}, classify("self", c.phone, err)
	}
	return Identity{
		UserID:    u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Phone:     u.Phone,
	}, nil
}

func (c *gotdConn) resolveUser(ctx context.Context, id int64) (*tg.InputPeerUser, bool, error) {
	if hash, ok := c.peers[id]; ok {
		return &tg.InputPeerUser{UserID: id, AccessHash: hash}, true, nil
	}
	res, err := c.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		return nil, false, err
	}
	var users []tg.UserClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		users = d.Users
	case *tg.MessagesDialogsSlice:
		users = d.Users
	}
	if c.peers == nil {
		c.peers = make(map[int64]int64, len(users))
	}
	for _, uc := range users {
		if u, ok := uc.(*tg.User); ok {
			c.peers[u.ID] = u.AccessHash
		}
	}
	hash, ok := c.peers[id]
	if !ok {
		return nil, false, nil
	}
	return &tg.InputPeerUser{UserID: id, AccessHash: hash}, true, nil
}

func (c *gotdConn) RecentMessages(ctx context.Context, peer int64, limit int) ([]Message, error) {
	input, ok, err := c.resolveUser(ctx, peer)
	if err != nil {
		return nil, classify("history", c.phone, err)
	}
	if !ok {
		// no dialog with peer yet
		return nil, nil
	}
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{Peer: input, Limit: limit})
	if err != nil {
		return nil, classify("history", c.phone, err)
	}
	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	}
	out := make([]Message, 0, len(raw))
	for _, mc := range raw {
		if m, ok := toMessage(mc); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *gotdConn) Authorizations(ctx context.Context) ([]Authorization, error) {
	res, err := c.api.AccountGetAuthorizations(ctx)
	if err != nil {
		return nil, classify("authorizations", c.phone, err)
	}
	out := make([]Authorization, 0, len(res.Authorizations))
	for _, a := range res.Authorizations {
		out = append(out, Authorization{
			Hash:        a.Hash,
			Device:      a.DeviceModel,
			Platform:    a.Platform,
			System:      a.SystemVersion,
			App:         a.AppName + " " + a.AppVersion,
			IP:          a.IP,
			Country:     a.Country,
			Current:     a.Current,
			CreatedAt:   time.Unix(int64(a.DateCreated), 0),
			LastActive:  time.Unix(int64(a.DateActive), 0),
			OfficialApp: a.OfficialApp,
		})
	}
	return out, nil
}

func (c *gotdConn) ResetAuthorization(ctx context.Context, hash int64) error {
	if _, err := c.api.AccountResetAuthorization(ctx, hash); err != nil {
		return classify("reset_authorization", c.phone, err)
	}
	return nil
}

func (c *gotdConn) ResetOtherAuthorizations(ctx context.Context) error {
	if _, err := c.api.AuthResetAuthorizations(ctx); err != nil {
		return classify("reset_authorizations", c.phone, err)
	}
	return nil
}

// Close stops the client and waits for its goroutine.
func (c *gotdConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

func toMessage(mc tg.MessageClass) (Message, bool) {
	m, ok := mc.(*tg.Message)
	if !ok {
		return Message{}, false
	}
	sender := peerUserID(m.PeerID)
	if from, ok := m.GetFromID(); ok {
		sender = peerUserID(from)
	}
	if m.Out {
		sender = 0
	}
	return Message{
		Text:     m.Message,
		SenderID: sender,
		Date:     time.Unix(int64(m.Date), 0),
	}, true
}

func peerUserID(p tg.PeerClass) int64 {
	if u, ok := p.(*tg.PeerUser); ok {
		return u.UserID
	}
	return 0
}
