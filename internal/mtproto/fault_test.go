package mtproto

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
)

func TestFaultMatching(t *testing.T) {
	revoked := fmt.Errorf("poll: %w", fault(KindAuthRevoked, "self", "+1", errors.New("rpc")))
	assert.ErrorIs(t, revoked, ErrAuthRevoked)
	assert.NotErrorIs(t, revoked, ErrTransientProtocol)
	assert.Equal(t, KindAuthRevoked, KindOf(revoked))

	dial := fault(KindConnectionFailure, "dial", "+1", revoked)
	assert.ErrorIs(t, dial, ErrConnectionFailure)
	assert.ErrorIs(t, dial, ErrAuthRevoked)
	assert.Equal(t, "CONNECTION_FAILURE", dial.Code())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify("self", "+1", tgerr.New(401, "AUTH_KEY_UNREGISTERED")), ErrAuthRevoked)
	assert.ErrorIs(t, classify("self", "+1", tgerr.New(401, "SOMETHING_NEW")), ErrAuthRevoked)
	assert.ErrorIs(t, classify("self", "+1", tgerr.New(420, "FLOOD_WAIT_3")), ErrTransientProtocol)
	assert.ErrorIs(t, classify("self", "+1", errors.New("io timeout")), ErrTransientProtocol)
	assert.NoError(t, classify("self", "+1", nil))
}
