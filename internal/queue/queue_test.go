package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattendance/internal/queue"
)

type payload struct {
	RecordID string `json:"record_id"`
}

func TestInMemory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := queue.NewInMemory(4)

	msg, err := queue.NewMessage("attendance.checked_in", payload{RecordID: "r1"})
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, msg))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "attendance.checked_in", got.Type)
		var p payload
		require.NoError(t, got.Decode(&p))
		assert.Equal(t, "r1", p.RecordID)
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestRedisQueue_Publish(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	q := queue.NewRedisQueue(rdb, "", nil)

	msg, err := queue.NewMessage("attendance.checked_in", payload{RecordID: "r1"})
	require.NoError(t, err)
	mock.ExpectLPush(queue.DefaultKey, `{"type":"attendance.checked_in","body":{"record_id":"r1"}}`).SetVal(1)

	require.NoError(t, q.Publish(context.Background(), msg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueue_Consume(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	q := queue.NewRedisQueue(rdb, "events", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock.ExpectBRPop(5*time.Second, "events").SetVal([]string{"events", "not json"})
	mock.ExpectBRPop(5*time.Second, "events").SetVal([]string{"events", `{"type":"attendance.checked_out","body":{"record_id":"r2"}}`})

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "attendance.checked_out", got.Type)
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
	cancel()
	for range ch {
	}
}
