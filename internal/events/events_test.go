package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func TestNewEnvelope(t *testing.T) {
	ev, err := New(PurchaseConfirmed, map[string]any{"purchase_id": 7})
	require.NoError(t, err)
	assert.Equal(t, PurchaseConfirmed, ev.Type)
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.JSONEq(t, `{"purchase_id":7}`, string(ev.Payload))

	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"purchase.confirmed"`)
}

func TestNewRejectsUnmarshalablePayload(t *testing.T) {
	_, err := New(DepositSubmitted, make(chan int))
	assert.Error(t, err)
}

func TestEmitSwallowsFailures(t *testing.T) {
	ok := &recorder{}
	Emit(context.Background(), ok, DepositApproved, map[string]int{"deposit_id": 1})
	require.Len(t, ok.events, 1)
	assert.Equal(t, DepositApproved, ok.events[0].Type)

	Emit(context.Background(), &recorder{err: errors.New("broker down")}, DepositRejected, nil)
	Emit(context.Background(), nil, DepositRejected, nil)
}

func TestLogPublisher(t *testing.T) {
	ev, err := New(PurchaseClaimed, map[string]string{"phone": "+1"})
	require.NoError(t, err)
	assert.NoError(t, LogPublisher{}.Publish(context.Background(), ev))
}
