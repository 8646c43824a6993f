package rabbitmq

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherAndConsumer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	amqpURI := amqpURIForTest(ctx, t)

	conn, err := Connect(ctx, amqpURI, 5, time.Second)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ch, err := SetupChannel(conn, ExchangeJobs, JobEventQueues())
	require.NoError(t, err)
	_, err = ch.QueuePurge("jobs.notifications", false)
	require.NoError(t, err)

	type event struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}

	got := make(chan event, 2)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	err = ConsumerMessage(ctx, log, ch, "jobs.notifications", 2, func(_ context.Context, body []byte) error {
		var e event
		if err := json.Unmarshal(body, &e); err != nil {
			return err
		}
		got <- e
		return nil
	})
	require.NoError(t, err)

	pubCh, err := conn.Channel()
	require.NoError(t, err)
	pub := NewPublisher(pubCh, ExchangeJobs)

	require.NoError(t, pub.Publish(ctx, RoutingKeyFor("sent"), event{JobID: "job-1", Status: "sent"}))

	select {
	case e := <-got:
		assert.Equal(t, event{JobID: "job-1", Status: "sent"}, e)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message via exchange")
	}
}

func TestPublish_MarshalError(t *testing.T) {
	badMsg := struct {
		Ch chan int `json:"ch"`
	}{Ch: make(chan int)}

	err := PublishMessage(nil, ExchangeJobs, RoutingJobSent, badMsg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rabbitmq.PublishMessage")
}

func TestPublisher_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPublisher(nil, ExchangeJobs).Publish(ctx, RoutingJobSent, map[string]string{})
	assert.ErrorIs(t, err, context.Canceled)
}
