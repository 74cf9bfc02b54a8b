package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/townmap/internal/syncer"
)

var (
	_ syncer.Publisher = (*RedisPublisher)(nil)
	_ syncer.Publisher = (*KafkaPublisher)(nil)
	_ syncer.Publisher = (*Bus)(nil)
)

var testNote = syncer.Notification{
	Fingerprint: "1a2b3c4d",
	Towns:       7,
	UpdatedAt:   time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
}

type fakeRedis struct {
	channel string
	message any
	err     error
	closed  bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.message = message
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisPublisher_Publish(t *testing.T) {
	client := &fakeRedis{}
	p := NewRedisPublisher(client, "")

	require.NoError(t, p.Publish(context.Background(), testNote))
	assert.Equal(t, DefaultRedisChannel, client.channel)

	var got syncer.Notification
	require.NoError(t, json.Unmarshal(client.message.([]byte), &got))
	assert.Equal(t, testNote.Fingerprint, got.Fingerprint)
	assert.Equal(t, 7, got.Towns)
	assert.Equal(t, "redis", p.Name())

	require.NoError(t, p.Close())
	assert.True(t, client.closed)
}

func TestRedisPublisher_Error(t *testing.T) {
	p := NewRedisPublisher(&fakeRedis{err: errors.New("connection refused")}, "towns")

	err := p.Publish(context.Background(), testNote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to towns")
}

func TestOpenRedis_EmptyAddr(t *testing.T) {
	assert.Nil(t, OpenRedis("", "", 0))

	c := OpenRedis("127.0.0.1:6379", "", 2)
	require.NotNil(t, c)
	assert.Equal(t, 2, c.Options().DB)
	require.NoError(t, c.Close())
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	require.NoError(t, p.Publish(context.Background(), testNote))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "1a2b3c4d", string(w.msgs[0].Key))
	assert.Equal(t, testNote.UpdatedAt, w.msgs[0].Time)
	assert.Contains(t, string(w.msgs[0].Value), `"towns":7`)
	assert.Equal(t, "kafka", p.Name())
}

func TestKafkaPublisher_Error(t *testing.T) {
	p := NewKafkaPublisher(&fakeWriter{err: errors.New("leader not available")})

	err := p.Publish(context.Background(), testNote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka: write message")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "town-updates")
	assert.Equal(t, "town-updates", w.Topic)
	assert.Equal(t, "localhost:9092", w.Addr.String())
}

func TestBus_FanOut(t *testing.T) {
	b := NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := b.Subscribe(ctx, 1)
	c := b.Subscribe(ctx, 1)
	assert.Equal(t, 2, b.Subscribers())

	require.NoError(t, b.Publish(ctx, testNote))

	for _, ch := range []<-chan syncer.Notification{a, c} {
		select {
		case n := <-ch:
			assert.Equal(t, testNote.Fingerprint, n.Fingerprint)
		case <-time.After(time.Second):
			t.Fatal("notification not delivered")
		}
	}
}

func TestBus_UnsubscribeOnCancel(t *testing.T) {
	b := NewBus(1)
	ctx, cancel := context.WithCancel(context.Background())

	ch := b.Subscribe(ctx, 1)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Equal(t, 0, b.Subscribers())
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, 1)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, testNote))
	}
	assert.Eventually(t, func() bool { return len(ch) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, cap(ch))
}
