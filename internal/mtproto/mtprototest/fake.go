// Package mtprototest provides in-memory Dialer and Conn implementations for tests.
package mtprototest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/numbershop/internal/mtproto"
)

// Conn is a scripted mtproto.Conn. It records whether two calls ever overlapped.
type Conn struct {
	// Delay is slept inside every call.
	Delay time.Duration

	mu       sync.Mutex
	messages []mtproto.Message
	auths    []mtproto.Authorization
	selfErr  error
	msgErr   error
	// keepOnReset lists hashes ResetAuthorization acknowledges without removing.
	keepOnReset map[int64]bool
	resets      []int64
	closed      int

	inFlight atomic.Int32
	overlap  atomic.Bool
}

// NewConn returns a Conn with no messages and no authorizations.
func NewConn() *Conn {
	return &Conn{keepOnReset: make(map[int64]bool)}
}

func (c *Conn) enter() func() {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	if c.Delay > 0 {
		time.Sleep(c.Delay)
	}
	return func() { c.inFlight.Add(-1) }
}

// Overlapped reports whether calls were ever concurrent.
func (c *Conn) Overlapped() bool { return c.overlap.Load() }

// SetMessages replaces the system chat history, newest first.
func (c *Conn) SetMessages(msgs ...mtproto.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = msgs
}

// SetSelfErr makes Self fail with err.
func (c *Conn) SetSelfErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfErr = err
}

// SetMessagesErr makes RecentMessages fail with err.
func (c *Conn) SetMessagesErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgErr = err
}

// SetAuthorizations replaces the device list.
func (c *Conn) SetAuthorizations(auths ...mtproto.Authorization) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auths = auths
}

// IgnoreReset makes ResetAuthorization succeed for hash without removing it.
func (c *Conn) IgnoreReset(hash int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepOnReset[hash] = true
}

// Resets returns the hashes passed to ResetAuthorization.
func (c *Conn) Resets() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.resets)
}

// Closed returns how many times Close was called.
func (c *Conn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) RecentMessages(_ context.Context, peer int64, limit int) ([]mtproto.Message, error) {
	defer c.enter()()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.msgErr != nil {
		return nil, c.msgErr
	}
	var out []mtproto.Message
	for _, m := range c.messages {
		if m.SenderID != peer {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *Conn) Self(context.Context) (mtproto.Identity, error) {
	defer c.enter()()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selfErr != nil {
		return mtproto.Identity{}, c.selfErr
	}
	return mtproto.Identity{UserID: 1}, nil
}

func (c *Conn) Authorizations(context.Context) ([]mtproto.Authorization, error) {
	defer c.enter()()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selfErr != nil {
		return nil, c.selfErr
	}
	return slices.Clone(c.auths), nil
}

func (c *Conn) ResetAuthorization(_ context.Context, hash int64) error {
	defer c.enter()()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets = append(c.resets, hash)
	if c.keepOnReset[hash] {
		return nil
	}
	c.auths = slices.DeleteFunc(c.auths, func(a mtproto.Authorization) bool { return a.Hash == hash })
	return nil
}

func (c *Conn) ResetOtherAuthorizations(context.Context) error {
	defer c.enter()()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auths = slices.DeleteFunc(c.auths, func(a mtproto.Authorization) bool { return !a.Current })
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// Dialer hands out one Conn per phone and counts dials.
type Dialer struct {
	// Gate, when set, blocks every Dial until it is closed.
	Gate chan struct{}
	// Err fails every Dial.
	Err error

	mu        sync.Mutex
	conns     map[string]*Conn
	observers map[string]func(mtproto.Message)
	dials     atomic.Int32
}

// NewDialer returns a Dialer with no scripted connections.
func NewDialer() *Dialer {
	return &Dialer{conns: make(map[string]*Conn), observers: make(map[string]func(mtproto.Message))}
}

// Conn returns the connection served for phone, creating it on first use.
func (d *Dialer) Conn(phone string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[phone]
	if !ok {
		c = NewConn()
		d.conns[phone] = c
	}
	return c
}

// Dials returns the number of Dial calls.
func (d *Dialer) Dials() int { return int(d.dials.Load()) }

// Push delivers m to the observer registered by the last Dial for phone.
func (d *Dialer) Push(phone string, m mtproto.Message) bool {
	d.mu.Lock()
	obs := d.observers[phone]
	d.mu.Unlock()
	if obs == nil {
		return false
	}
	obs(m)
	return true
}

func (d *Dialer) Dial(ctx context.Context, cred mtproto.Credential, observer func(mtproto.Message)) (mtproto.Conn, error) {
	d.dials.Add(1)
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return nil, &mtproto.Fault{Kind: mtproto.KindConnectionFailure, Op: "dial", Phone: cred.Phone, Err: ctx.Err()}
		}
	}
	if d.Err != nil {
		return nil, d.Err
	}
	if cred.Session == "" {
		return nil, &mtproto.Fault{Kind: mtproto.KindConnectionFailure, Op: "dial", Phone: cred.Phone, Err: errors.New("empty session")}
	}
	conn := d.Conn(cred.Phone)
	d.mu.Lock()
	d.observers[cred.Phone] = observer
	d.mu.Unlock()
	return conn, nil
}
