// Package mtproto is the connection primitive used by the watcher and the
// device lister: it resumes a stored Telegram user session and exposes the
// handful of calls they need.
package mtproto

import (
	"context"
	"time"
)

// SystemPeerID is the user id Telegram sends login codes and login notices from.
const SystemPeerID int64 = 777000

// Credential is what the store holds for one account.
type Credential struct {
	Phone   string
	Session string
	TwoFA   string
}

// Message is a received message reduced to what code extraction needs.
type Message struct {
	Text     string
	SenderID int64
	Date     time.Time
}

// Identity is the account a session authenticates as.
type Identity struct {
	UserID    int64
	FirstName string
	LastName  string
	Username  string
	Phone     string
}

// Authorization is one logged-in device of the account.
type Authorization struct {
	Hash        int64
	Device      string
	Platform    string
	System      string
	App         string
	IP          string
	Country     string
	Current     bool
	CreatedAt   time.Time
	LastActive  time.Time
	OfficialApp bool
}

// Conn is a live connection. Implementations are not required to be safe for
// concurrent use; callers serialize calls per connection.
type Conn interface {
	// RecentMessages returns up to limit messages from peer, newest first.
	RecentMessages(ctx context.Context, peer int64, limit int) ([]Message, error)
	// Self probes the session. A revoked session yields an error matching ErrAuthRevoked.
	Self(ctx context.Context) (Identity, error)
	Authorizations(ctx context.Context) ([]Authorization, error)
	ResetAuthorization(ctx context.Context, hash int64) error
	// ResetOtherAuthorizations terminates every authorization except the current one.
	ResetOtherAuthorizations(ctx context.Context) error
	Close() error
}

// Dialer opens connections. A non-nil observer receives pushed messages from
// any peer; it must not block and must not call back into the Conn.
type Dialer interface {
	Dial(ctx context.Context, cred Credential, observer func(Message)) (Conn, error)
}
