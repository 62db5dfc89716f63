package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func TestRabbitPublisherDelivers(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine", rabbitmq.WithAdminPassword("password"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate rabbitmq: %v", err)
		}
	})
	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	const exchange = "numbershop.test"
	pub, err := DialRabbit(url, exchange)
	require.NoError(t, err)
	defer pub.Close()

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, false, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "deposit.*", exchange, false, nil))
	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	require.NoError(t, err)

	ev, err := New(DepositSubmitted, map[string]any{"deposit_id": 42, "amount": "150.00"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, ev))

	select {
	case msg := <-msgs:
		assert.Equal(t, DepositSubmitted, msg.RoutingKey)
		assert.Equal(t, ev.ID.String(), msg.MessageId)
		var got Event
		require.NoError(t, json.Unmarshal(msg.Body, &got))
		assert.Equal(t, ev.ID, got.ID)
		assert.JSONEq(t, `{"deposit_id":42,"amount":"150.00"}`, string(got.Payload))
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for message from RabbitMQ")
	}
}
