package messaging_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"registration-service/common/metrics"
	"registration-service/internal/messaging"
	"registration-service/testing/testnats"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createdEvent struct {
	ID            int64  `json:"id"`
	TransactionID string `json:"transaction_id"`
}

func TestProducer(t *testing.T) {
	natsContainer := testnats.SetupSharedNATS(t)
	defer natsContainer.Cleanup(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Publish", func(t *testing.T) {
		conn := natsContainer.Connect(t)
		sub, err := conn.SubscribeSync("registrations.created")
		require.NoError(t, err)
		require.NoError(t, conn.Flush())

		producer, err := messaging.NewProducer(natsContainer.URL, "registrations.created", logger, metrics.NewMock().Messaging)
		require.NoError(t, err)
		defer producer.Close()

		err = producer.Publish(context.Background(), "T1", createdEvent{ID: 7, TransactionID: "T1"})
		require.NoError(t, err)

		msg, err := sub.NextMsg(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, "T1", msg.Header.Get(nats.MsgIdHdr))

		var got createdEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, createdEvent{ID: 7, TransactionID: "T1"}, got)
	})

	t.Run("PublishCancelled", func(t *testing.T) {
		producer, err := messaging.NewProducer(natsContainer.URL, "registrations.created", logger, nil)
		require.NoError(t, err)
		defer producer.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, producer.Publish(ctx, "T1", createdEvent{ID: 1}), context.Canceled)
	})

	t.Run("UnmarshalableEvent", func(t *testing.T) {
		producer, err := messaging.NewProducer(natsContainer.URL, "registrations.created", logger, nil)
		require.NoError(t, err)
		defer producer.Close()

		assert.Error(t, producer.Publish(context.Background(), "T1", make(chan int)))
	})
}

func TestNewProducerUnreachable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := messaging.NewProducer("nats://127.0.0.1:1", "registrations.created", logger, nil)
	assert.Error(t, err)
}
