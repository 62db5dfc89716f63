package devices

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/numbershop/internal/mtproto"
	"github.com/m3rciful/numbershop/internal/mtproto/mtprototest"
)

var (
	cred = mtproto.Credential{Phone: "+447700900123", Session: "session"}
	now  = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
)

func seeded() (*Lister, *mtprototest.Conn) {
	d := mtprototest.NewDialer()
	conn := d.Conn(cred.Phone)
	conn.SetAuthorizations(
		mtproto.Authorization{Hash: 11, Device: "Pixel 8", Platform: "android", LastActive: now.Add(-time.Hour)},
		mtproto.Authorization{Hash: 22, Device: "shop", Current: true, LastActive: now.Add(-48 * time.Hour)},
		mtproto.Authorization{Hash: 33, Platform: "ios", LastActive: now.Add(-time.Minute)},
	)
	return New(d, time.Second), conn
}

func TestListOrdersCurrentFirst(t *testing.T) {
	l, conn := seeded()

	got, err := l.List(context.Background(), cred)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"22", "33", "11"}, []string{got[0].Handle, got[1].Handle, got[2].Handle})
	assert.True(t, got[0].Current)
	assert.Equal(t, "Unknown", got[1].Device)
	assert.Equal(t, 1, conn.Closed())
}

func TestRevokeConfirmsAbsence(t *testing.T) {
	l, conn := seeded()

	ok, err := l.Revoke(context.Background(), cred, "11")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{11}, conn.Resets())

	left, err := l.List(context.Background(), cred)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestRevokeNotConfirmed(t *testing.T) {
	l, conn := seeded()
	conn.IgnoreReset(33)

	ok, err := l.Revoke(context.Background(), cred, "33")
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, mtproto.ErrRevocationNotConfirmed)
	assert.Equal(t, mtproto.KindRevocationNotConfirmed, mtproto.KindOf(err))
}

func TestRevokeRefusesCurrentSession(t *testing.T) {
	l, conn := seeded()

	ok, err := l.Revoke(context.Background(), cred, "22")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCurrentSession)
	assert.Empty(t, conn.Resets())
}

func TestRevokeBadHandle(t *testing.T) {
	l, _ := seeded()
	_, err := l.Revoke(context.Background(), cred, "abc")
	assert.ErrorIs(t, err, ErrBadHandle)
}

func TestRevokeOthers(t *testing.T) {
	l, conn := seeded()

	n, err := l.RevokeOthers(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := l.List(context.Background(), cred)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.True(t, left[0].Current)
	assert.Equal(t, 3, conn.Closed())
}

func TestProbeRevokedSession(t *testing.T) {
	l, conn := seeded()
	conn.SetSelfErr(&mtproto.Fault{Kind: mtproto.KindAuthRevoked, Op: "self"})

	_, err := l.Probe(context.Background(), cred)
	assert.ErrorIs(t, err, mtproto.ErrAuthRevoked)
	assert.Equal(t, 1, conn.Closed())
}

func TestDialFailure(t *testing.T) {
	d := mtprototest.NewDialer()
	l := New(d, time.Second)

	_, err := l.List(context.Background(), mtproto.Credential{Phone: "+1"})
	assert.ErrorIs(t, err, mtproto.ErrConnectionFailure)
}
