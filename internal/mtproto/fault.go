package mtproto

import (
	"errors"
	"fmt"
)

// Kind classifies a Fault.
type Kind string

const (
	KindConnectionFailure      Kind = "CONNECTION_FAILURE"
	KindAuthRevoked            Kind = "AUTH_REVOKED"
	KindTransientProtocol      Kind = "TRANSIENT_PROTOCOL"
	KindRevocationNotConfirmed Kind = "REVOCATION_NOT_CONFIRMED"
)

// ErrAuthRevoked matches every fault caused by a revoked or terminated session.
var ErrAuthRevoked = errors.New("mtproto: authorization revoked")

// Kind sentinels for errors.Is.
var (
	ErrConnectionFailure      = &Fault{Kind: KindConnectionFailure}
	ErrTransientProtocol      = &Fault{Kind: KindTransientProtocol}
	ErrRevocationNotConfirmed = &Fault{Kind: KindRevocationNotConfirmed}
)

// Fault is the typed error of every connection operation.
type Fault struct {
	Kind  Kind
	Op    string
	Phone string
	Err   error
}

func (f *Fault) Error() string {
	msg := "mtproto"
	if f.Op != "" {
		msg += " " + f.Op
	}
	msg += ": " + string(f.Kind)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Err }

// Code feeds err_code in handler logs.
func (f *Fault) Code() string { return string(f.Kind) }

// Is matches kind sentinels and, for revoked sessions, ErrAuthRevoked.
func (f *Fault) Is(target error) bool {
	if target == ErrAuthRevoked {
		return f.Kind == KindAuthRevoked
	}
	t, ok := target.(*Fault)
	return ok && t.Op == "" && t.Err == nil && t.Kind == f.Kind
}

// KindOf returns the kind of the first Fault in err's chain, or "".
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

func fault(kind Kind, op, phone string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Phone: phone, Err: err}
}

// Faultf builds a fault with a formatted cause.
func Faultf(kind Kind, op, phone, format string, args ...any) *Fault {
	return fault(kind, op, phone, fmt.Errorf(format, args...))
}
