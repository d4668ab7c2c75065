package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNote struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
}

func init() {
	RegisterItemType("test_note", func() any { return &testNote{} })
}

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue(8)
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &testNote{Text: "one"}))
	require.NoError(t, q.Enqueue(ctx, &testNote{Text: "two"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", first.(*testNote).Text)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", second.(*testNote).Text)
}

func TestMemoryQueueDropsOldestWhenFull(t *testing.T) {
	q := NewMemoryQueue(2)
	defer q.Close()

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, q.Enqueue(ctx, &testNote{Text: text}))
	}

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "two", item.(*testNote).Text, "oldest item should have been dropped")

	item, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "three", item.(*testNote).Text)
}

func TestMemoryQueueEnqueueNeverBlocks(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = q.Enqueue(context.Background(), &testNote{Text: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), &testNote{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestCodecRoundTrip(t *testing.T) {
	data, err := marshalItem(&testNote{RequestID: "req-1", Text: "hello"})
	require.NoError(t, err)

	item, err := unmarshalItem(data)
	require.NoError(t, err)

	note, ok := item.(*testNote)
	require.True(t, ok)
	assert.Equal(t, "req-1", note.RequestID)
	assert.Equal(t, "hello", note.Text)
}

func TestCodecSentinelByValue(t *testing.T) {
	data, err := marshalItem(Sentinel{})
	require.NoError(t, err)

	item, err := unmarshalItem(data)
	require.NoError(t, err)
	_, ok := item.(*Sentinel)
	assert.True(t, ok)
}

func TestCodecRejectsUnknownType(t *testing.T) {
	type unregistered struct{}
	_, err := marshalItem(&unregistered{})
	assert.ErrorIs(t, err, ErrUnknownItemType)
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	q, err := NewRedisQueue(RedisConfig{Addr: mr.Addr(), QueueName: "test"})
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &testNote{RequestID: "req-9", Text: "over redis"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	note, ok := item.(*testNote)
	require.True(t, ok)
	assert.Equal(t, "req-9", note.RequestID)
	assert.Equal(t, "over redis", note.Text)
}

func TestRedisQueueSentinel(t *testing.T) {
	mr := miniredis.RunT(t)

	q, err := NewRedisQueue(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Sentinel{}))

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	_, ok := item.(*Sentinel)
	assert.True(t, ok)
}
