package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcript-rag/internal/ai"
	"transcript-rag/internal/model"
)

func rawChunk(id uint, videoID string, start float64, text string) model.TranscriptChunk {
	return model.TranscriptChunk{ID: id, VideoID: videoID, StartTime: start, ChunkText: text}
}

func newTestCleaner(chunks *fakeChunks, llm *fakeLLM, sink *fakeSink, clearer FailureClearer) *CleanerService {
	videos := fakeVideos{"V1": {VideoID: "V1", Title: "Gamescast", ShowName: "Daily", Hosts: model.HostList{"Tim Gettys"}}}
	return NewCleanerService(chunks, videos, llm, sink, clearer, ai.ChatConfig{Model: "clean"}, 1, 0)
}

// replyByRaw answers with the RAW CHUNK section, transformed by fn.
func replyByRaw(fn func(raw string) (string, error)) func([]ai.ChatMessage) (string, error) {
	return func(messages []ai.ChatMessage) (string, error) {
		user := messages[len(messages)-1].Content
		raw := user[strings.Index(user, "RAW CHUNK:\n")+len("RAW CHUNK:\n") : strings.Index(user, "\n\nRESPONSE:")]
		return fn(raw)
	}
}

func TestCleanerRunCleansChunks(t *testing.T) {
	chunks := &fakeChunks{chunks: []model.TranscriptChunk{
		rawChunk(1, "V1", 0, ">> Tim Geddes said [Music] hello there"),
		rawChunk(2, "V1", 10.5, "and then he left the room"),
	}}
	llm := &fakeLLM{reply: replyByRaw(func(raw string) (string, error) {
		return `{"cleaned_text": "` + strings.ReplaceAll(raw, "Geddes", "Gettys") + `", "contains_crosstalk": false}`, nil
	})}
	sink, clearer := &fakeSink{}, &fakeClearer{}

	report, err := newTestCleaner(chunks, llm, sink, clearer).Run(context.Background(), CleanOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.EqualValues(t, 2, report.Processed)
	assert.EqualValues(t, 2, report.Cleaned)
	assert.EqualValues(t, 0, report.Failed)

	first := chunks.byID(1)
	assert.Equal(t, "Tim Gettys said hello there", first.ChunkText)
	assert.NotNil(t, first.CleanedAt)
	assert.Empty(t, sink.failures)
	assert.Len(t, clearer.cleared, 2)

	// neighbour context reaches the prompt
	prompt := llm.calls[0][1].Content
	assert.Contains(t, prompt, "Video Title: Gamescast")
	assert.Contains(t, prompt, "NEXT CHUNK:\nand then he left the room")
}

func TestCleanerRoutesInvalidResponsesToFailureSet(t *testing.T) {
	chunks := &fakeChunks{chunks: []model.TranscriptChunk{
		rawChunk(1, "V1", 0, "first chunk of talking"),
		rawChunk(2, "V1", 5, "second chunk of talking"),
		rawChunk(3, "V1", 9, "third chunk with a long enough body of text"),
	}}
	llm := &fakeLLM{reply: replyByRaw(func(raw string) (string, error) {
		switch {
		case strings.HasPrefix(raw, "first"):
			return "Sure, here you go: first chunk of talking", nil
		case strings.HasPrefix(raw, "third"):
			return `{"cleaned_text": "third"}`, nil
		default:
			return `{"cleaned_text": "` + raw + `"}`, nil
		}
	})}
	sink := &fakeSink{}

	report, err := newTestCleaner(chunks, llm, sink, &fakeClearer{}).Run(context.Background(), CleanOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, report.Processed)
	assert.EqualValues(t, 1, report.Cleaned)
	assert.EqualValues(t, 2, report.Failed)

	require.Len(t, sink.failures, 2)
	assert.Equal(t, "V1", sink.failures[0].VideoID)
	assert.Equal(t, report.RunID, sink.failures[0].RunID)
	assert.Contains(t, sink.failures[1].Reason, "too short")

	// rejected chunks are untouched and absent from the cleaned set
	assert.Nil(t, chunks.byID(1).CleanedAt)
	assert.Equal(t, "first chunk of talking", chunks.byID(1).ChunkText)
	cleaned, _ := chunks.ListCleaned(context.Background(), 0, 10)
	require.Len(t, cleaned, 1)
	assert.EqualValues(t, 2, cleaned[0].ID)
}

func TestCleanChunkReturnsValidationError(t *testing.T) {
	chunks := &fakeChunks{chunks: []model.TranscriptChunk{rawChunk(1, "V1", 12.5, "hello world")}}
	llm := &fakeLLM{reply: func([]ai.ChatMessage) (string, error) { return `{"contains_crosstalk": true}`, nil }}
	sink := &fakeSink{}

	err := newTestCleaner(chunks, llm, sink, nil).CleanChunk(context.Background(), chunks.byID(1), model.Video{}, "run")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "V1", verr.VideoID)
	assert.InDelta(t, 12.5, verr.StartTime, 1e-9)
	assert.Len(t, sink.failures, 1)
}

func TestCleanerAbortsOnUpstreamFailure(t *testing.T) {
	chunks := &fakeChunks{chunks: []model.TranscriptChunk{
		rawChunk(1, "V1", 0, "first chunk"),
		rawChunk(2, "V1", 5, "second chunk"),
		rawChunk(3, "V1", 9, "third chunk"),
	}}
	llm := &fakeLLM{reply: replyByRaw(func(raw string) (string, error) {
		if strings.HasPrefix(raw, "second") {
			return "", errors.New("connection refused")
		}
		return `{"cleaned_text": "` + raw + `"}`, nil
	})}

	report, err := newTestCleaner(chunks, llm, &fakeSink{}, nil).Run(context.Background(), CleanOptions{Workers: 1})
	require.Error(t, err)
	assert.True(t, IsUpstreamUnavailable(err))

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "clean", ue.Stage)
	assert.Equal(t, "V1@5", ue.ID)

	// the chunk committed before the failure stays cleaned
	assert.NotNil(t, chunks.byID(1).CleanedAt)
	assert.Nil(t, chunks.byID(2).CleanedAt)
	assert.EqualValues(t, 1, report.Cleaned)
}

func TestCleanerRespectsLimit(t *testing.T) {
	chunks := &fakeChunks{}
	for i := uint(1); i <= 5; i++ {
		chunks.chunks = append(chunks.chunks, rawChunk(i, "V1", float64(i), "some words here"))
	}
	llm := &fakeLLM{reply: func([]ai.ChatMessage) (string, error) {
		return `{"cleaned_text": "some words here"}`, nil
	}}

	report, err := newTestCleaner(chunks, llm, &fakeSink{}, nil).Run(context.Background(), CleanOptions{Limit: 3, BatchSize: 2, Workers: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, report.Processed)
	assert.Equal(t, 3, llm.callCount())
}

func TestCleanerSkipsChunksWithNoSpeech(t *testing.T) {
	chunks := &fakeChunks{chunks: []model.TranscriptChunk{
		rawChunk(1, "V1", 0, "[Music] [Applause]"),
		rawChunk(2, "V1", 4, "welcome back to the show"),
	}}
	llm := &fakeLLM{reply: func([]ai.ChatMessage) (string, error) {
		return `{"cleaned_text": "Thanks for watching everyone"}`, nil
	}}
	clearer := &fakeClearer{}

	svc := newTestCleaner(chunks, llm, &fakeSink{}, clearer)
	err := svc.CleanChunk(context.Background(), chunks.byID(1), model.Video{}, "run")
	require.ErrorIs(t, err, ErrNothingToClean)
	assert.Equal(t, 0, llm.callCount())

	stored := chunks.byID(1)
	assert.Empty(t, stored.ChunkText)
	assert.NotNil(t, stored.CleanedAt)
	assert.Len(t, clearer.cleared, 1)
}

func TestCleanerRunCountsEmptyChunksAsSkipped(t *testing.T) {
	chunks := &fakeChunks{chunks: []model.TranscriptChunk{
		rawChunk(1, "V1", 0, "[Music] >> [Applause]"),
		rawChunk(2, "V1", 4, "welcome back to the show"),
	}}
	llm := &fakeLLM{reply: replyByRaw(func(raw string) (string, error) {
		return `{"cleaned_text": "` + raw + `"}`, nil
	})}

	report, err := newTestCleaner(chunks, llm, &fakeSink{}, nil).Run(context.Background(), CleanOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Processed)
	assert.EqualValues(t, 1, report.Cleaned)
	assert.EqualValues(t, 1, report.Skipped)
	assert.EqualValues(t, 0, report.Failed)
	assert.Equal(t, 1, llm.callCount())
}

func TestCleanerRejectsInventedText(t *testing.T) {
	chunks := &fakeChunks{chunks: []model.TranscriptChunk{rawChunk(1, "V1", 0, "uh yeah")}}
	llm := &fakeLLM{reply: func([]ai.ChatMessage) (string, error) {
		return `{"cleaned_text": "Yeah, and as we discussed at length last week, the sequel is coming out in March."}`, nil
	}}
	sink := &fakeSink{}

	err := newTestCleaner(chunks, llm, sink, nil).CleanChunk(context.Background(), chunks.byID(1), model.Video{}, "run")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "too long")
	require.Len(t, sink.failures, 1)
	assert.Nil(t, chunks.byID(1).CleanedAt)
	assert.Equal(t, "uh yeah", chunks.byID(1).ChunkText)
}

func TestCheckCleanedLength(t *testing.T) {
	raw := "we talked about the new game today"
	assert.Empty(t, checkCleanedLength("We talked about the new game today.", raw))
	assert.Contains(t, checkCleanedLength("we talked", raw), "too short")
	assert.Contains(t, checkCleanedLength(strings.Repeat(raw, 3), raw), "too long")
}
