// Package devices lists and terminates the logged-in devices of a sold
// account. Every call uses its own short-lived connection.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/m3rciful/numbershop/core/logger"
	"github.com/m3rciful/numbershop/internal/mtproto"
)

var (
	// ErrCurrentSession is returned when asked to revoke the shop's own session.
	ErrCurrentSession = errors.New("devices: refusing to revoke the current session")
	// ErrBadHandle is returned for handles that are not authorization hashes.
	ErrBadHandle = errors.New("devices: malformed session handle")
)

const defaultDialTimeout = 20 * time.Second

// Session is one logged-in device.
type Session struct {
	Handle     string
	Device     string
	Platform   string
	System     string
	IP         string
	Country    string
	App        string
	Current    bool
	CreatedAt  time.Time
	LastActive time.Time
}

// Lister opens connections through dialer.
type Lister struct {
	dialer      mtproto.Dialer
	dialTimeout time.Duration
}

// New returns a Lister. A zero dialTimeout means 20 seconds.
func New(dialer mtproto.Dialer, dialTimeout time.Duration) *Lister {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &Lister{dialer: dialer, dialTimeout: dialTimeout}
}

// Handle encodes an authorization hash.
func Handle(hash int64) string {
	return strconv.FormatInt(hash, 10)
}

// ParseHandle is the inverse of Handle.
func ParseHandle(handle string) (int64, error) {
	hash, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadHandle, handle)
	}
	return hash, nil
}

func (l *Lister) with(ctx context.Context, cred mtproto.Credential, op string, fn func(mtproto.Conn) error) error {
	ctx = logger.WithPhone(ctx, cred.Phone)
	start := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, l.dialTimeout)
	conn, err := l.dialer.Dial(dialCtx, cred, nil)
	cancel()
	if err == nil {
		defer conn.Close()
		err = fn(conn)
	}

	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
	}
	logger.LogEvent(ctx, logger.SVCDevices, level, "devices."+op,
		slog.String("status", logger.Status(err)),
		slog.Duration("duration", logger.Took(start)),
		logger.Err(err),
	)
	return err
}

// List returns the account's devices, current first, then most recently active.
func (l *Lister) List(ctx context.Context, cred mtproto.Credential) ([]Session, error) {
	var out []Session
	err := l.with(ctx, cred, "list", func(conn mtproto.Conn) error {
		auths, err := conn.Authorizations(ctx)
		if err != nil {
			return err
		}
		out = sessions(auths)
		return nil
	})
	return out, err
}

// Revoke terminates handle and re-lists to confirm it is gone. It reports
// true only on confirmed absence; a handle still listed afterwards yields a
// REVOCATION_NOT_CONFIRMED fault.
func (l *Lister) Revoke(ctx context.Context, cred mtproto.Credential, handle string) (bool, error) {
	hash, err := ParseHandle(handle)
	if err != nil {
		return false, err
	}
	err = l.with(ctx, cred, "revoke", func(conn mtproto.Conn) error {
		before, err := conn.Authorizations(ctx)
		if err != nil {
			return err
		}
		for _, a := range before {
			if a.Hash == hash && a.Current {
				return ErrCurrentSession
			}
		}
		if err := conn.ResetAuthorization(ctx, hash); err != nil {
			return err
		}
		after, err := conn.Authorizations(ctx)
		if err != nil {
			return err
		}
		for _, a := range after {
			if a.Hash == hash {
				return mtproto.Faultf(mtproto.KindRevocationNotConfirmed, "revoke", cred.Phone, "session %s still listed", handle)
			}
		}
		return nil
	})
	return err == nil, err
}

// RevokeOthers terminates every device except the current one and returns
// how many were removed. Survivors other than the current session yield a
// REVOCATION_NOT_CONFIRMED fault.
func (l *Lister) RevokeOthers(ctx context.Context, cred mtproto.Credential) (int, error) {
	removed := 0
	err := l.with(ctx, cred, "revoke_others", func(conn mtproto.Conn) error {
		before, err := conn.Authorizations(ctx)
		if err != nil {
			return err
		}
		if err := conn.ResetOtherAuthorizations(ctx); err != nil {
			return err
		}
		after, err := conn.Authorizations(ctx)
		if err != nil {
			return err
		}
		left := 0
		for _, a := range after {
			if !a.Current {
				left++
			}
		}
		removed = len(before) - len(after)
		if left > 0 {
			return mtproto.Faultf(mtproto.KindRevocationNotConfirmed, "revoke_others", cred.Phone, "%d sessions still listed", left)
		}
		return nil
	})
	return removed, err
}

// Probe checks that a stored session still works and returns who it is.
func (l *Lister) Probe(ctx context.Context, cred mtproto.Credential) (mtproto.Identity, error) {
	var id mtproto.Identity
	err := l.with(ctx, cred, "probe", func(conn mtproto.Conn) error {
		var err error
		id, err = conn.Self(ctx)
		return err
	})
	return id, err
}

func sessions(auths []mtproto.Authorization) []Session {
	out := make([]Session, 0, len(auths))
	for _, a := range auths {
		out = append(out, Session{
			Handle:     Handle(a.Hash),
			Device:     orUnknown(a.Device),
			Platform:   orUnknown(a.Platform),
			System:     a.System,
			IP:         a.IP,
			Country:    a.Country,
			App:        a.App,
			Current:    a.Current,
			CreatedAt:  a.CreatedAt,
			LastActive: a.LastActive,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Current != out[j].Current {
			return out[i].Current
		}
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
