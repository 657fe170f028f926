package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"transcript-rag/internal/logging"
	"transcript-rag/internal/model"
)

type recordingStore struct {
	failures []model.CleaningFailure
	err      error
}

func (s *recordingStore) Record(ctx context.Context, f model.CleaningFailure) error {
	if s.err != nil {
		return s.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.failures = append(s.failures, f)
	return nil
}

type fakeAck struct {
	acked, nacked bool
}

func (a *fakeAck) Ack(bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(bool, bool) error {
	a.nacked = true
	return nil
}

func TestHandlePersistsFailure(t *testing.T) {
	store := &recordingStore{}
	w := NewFailurePersistWorker(nil, store, "q")
	ack := &fakeAck{}

	w.handle(context.Background(), logging.Default(), []byte(`{"run_id":"r1","video_id":"V1","start_time":12.5,"reason":"bad json"}`), ack)

	assert.True(t, ack.acked)
	assert.Equal(t, []model.CleaningFailure{{RunID: "r1", VideoID: "V1", StartTime: 12.5, Reason: "bad json"}}, store.failures)
}

func TestHandleDropsBadMessages(t *testing.T) {
	ack := &fakeAck{}
	NewFailurePersistWorker(nil, &recordingStore{}, "q").handle(context.Background(), logging.Default(), []byte("not json"), ack)
	assert.True(t, ack.nacked)

	ack = &fakeAck{}
	NewFailurePersistWorker(nil, &recordingStore{err: errors.New("db down")}, "q").
		handle(context.Background(), logging.Default(), []byte(`{"video_id":"V1"}`), ack)
	assert.True(t, ack.nacked)
	assert.False(t, ack.acked)
}

func TestHandlePersistsWhileShuttingDown(t *testing.T) {
	store := &recordingStore{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ack := &fakeAck{}

	NewFailurePersistWorker(nil, store, "q").handle(ctx, logging.Default(), []byte(`{"video_id":"V1","start_time":3}`), ack)

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	assert.Len(t, store.failures, 1)
}
