package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"ms-tourbooking/internal/logger"
	"ms-tourbooking/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

// scriptedReader replays messages, then blocks until the context ends.
type scriptedReader struct {
	msgs []kafka.Message
	errs []error
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) Close() error { return nil }

func TestPublishChange(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{Writer: w, logger: logger.New(io.Discard)}

	event := models.NewChangeEvent(models.TableTourDates, models.ChangeUpdate, "d1", "t1")
	require.NoError(t, p.PublishChange(context.Background(), event))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "t1", string(w.msgs[0].Key))
	assert.Equal(t, models.TableTourDates, string(w.msgs[0].Headers[0].Value))

	var decoded models.ChangeEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, models.ChangeUpdate, decoded.Action)
	assert.Equal(t, "d1", decoded.RecordID)
}

func TestPublishChange_KeyFallsBackToRecord(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{Writer: w, logger: logger.New(io.Discard)}

	require.NoError(t, p.PublishChange(context.Background(), models.NewChangeEvent(models.TableOrders, models.ChangeInsert, "o1", "")))
	assert.Equal(t, "o1", string(w.msgs[0].Key))
}

func TestPublishChange_WriterError(t *testing.T) {
	p := &Producer{Writer: &recordingWriter{err: errors.New("broker down")}, logger: logger.New(io.Discard)}
	assert.Error(t, p.PublishChange(context.Background(), models.NewChangeEvent(models.TableTours, models.ChangeDelete, "t1", "t1")))
}

func TestConsumerStart(t *testing.T) {
	good, _ := json.Marshal(models.NewChangeEvent(models.TableTourBookings, models.ChangeInsert, "b1", "t1"))
	r := &scriptedReader{
		errs: []error{errors.New("transient")},
		msgs: []kafka.Message{{Value: []byte("{broken")}, {Value: good}},
	}
	c := &Consumer{reader: r, logger: logger.New(io.Discard), backoff: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan models.ChangeEvent, 2)
	done := make(chan struct{})
	go func() {
		c.Start(ctx, func(e models.ChangeEvent) { received <- e })
		close(done)
	}()

	select {
	case e := <-received:
		assert.Equal(t, "b1", e.RecordID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, received)
}

// failingReader fails every read and counts the calls.
type failingReader struct {
	mu    sync.Mutex
	calls int
}

func (r *failingReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return kafka.Message{}, errors.New("broker unreachable")
}

func (r *failingReader) Close() error { return nil }

func TestConsumerWaitsAfterReadError(t *testing.T) {
	r := &failingReader{}
	c := &Consumer{reader: r, logger: logger.New(io.Discard), backoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx, func(models.ChangeEvent) {})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop while backing off")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, 1, r.calls)
}

func TestInstanceGroupID(t *testing.T) {
	a := InstanceGroupID("tourbooking-realtime")
	b := InstanceGroupID("tourbooking-realtime")

	assert.True(t, strings.HasPrefix(a, "tourbooking-realtime-"), a)
	assert.NotEqual(t, a, b)
}

func TestNewConsumerStartsAtLatestOffset(t *testing.T) {
	c := NewConsumer([]string{"127.0.0.1:1"}, "tour-changes", "group-a", logger.New(io.Discard))
	defer c.Close()

	reader, ok := c.reader.(*kafka.Reader)
	require.True(t, ok)
	cfg := reader.Config()
	assert.Equal(t, kafka.LastOffset, cfg.StartOffset)
	assert.Equal(t, "group-a", cfg.GroupID)
	assert.Equal(t, readBackoff, c.backoff)
}

func TestEnsureTopicsExist_NoBrokers(t *testing.T) {
	assert.Error(t, EnsureTopicsExist(nil, []string{"x"}, logger.New(io.Discard)))
}
