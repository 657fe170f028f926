package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcript-rag/internal/logging"
	"transcript-rag/internal/model"
)

func TestTimestampFormats(t *testing.T) {
	assert.Equal(t, "~15m 27s", ApproxTimestamp(927.31))
	assert.Equal(t, "~00m 05s", ApproxTimestamp(5))
	assert.Equal(t, "~75m 00s", ApproxTimestamp(4500))
	assert.Equal(t, "~00m 00s", ApproxTimestamp(-3))

	assert.Equal(t, "0:05", ClockTimestamp(5))
	assert.Equal(t, "15:27", ClockTimestamp(927))
	assert.Equal(t, "1:02:05", ClockTimestamp(3725))
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/watch?v=kj_sfU8432s&t=925s", WatchURL("kj_sfU8432s", 925))
	assert.Equal(t, "https://i.ytimg.com/vi/kj_sfU8432s/mqdefault.jpg", ThumbnailURL("kj_sfU8432s"))
	assert.Equal(t, 0, bufferedSeconds(1.2, -2))
}

func TestExtractCitations(t *testing.T) {
	refs := extractCitations("Greg said so (kj_sfU8432s, 927.31). Later (abc-123, 12; def_456, 40.5s) and (see above).")
	assert.Equal(t, []citationRef{
		{VideoID: "kj_sfU8432s", StartTime: 927.31},
		{VideoID: "abc-123", StartTime: 12},
		{VideoID: "def_456", StartTime: 40.5},
	}, refs)
}

func TestExtractCitationsCommaSeparatedPairs(t *testing.T) {
	refs := extractCitations("Both shows covered it (vidA, 927.3, vidB, 65).")
	assert.Equal(t, []citationRef{
		{VideoID: "vidA", StartTime: 927.3},
		{VideoID: "vidB", StartTime: 65},
	}, refs)

	var buf bytes.Buffer
	ctx := logging.With(context.Background(), logging.New("debug", &buf))
	passages := []model.ScoredRecord{
		{EmbeddingRecord: model.NewEmbeddingRecord("x", []float32{1}, map[string]interface{}{
			"video_id": "vidA", "start_time": 927.31,
		})},
	}
	citations := resolveCitations(ctx, refs, passages, 0)
	require.Len(t, citations, 1)
	assert.Equal(t, "vidA", citations[0].VideoID)
	assert.Contains(t, buf.String(), "vidB")
}

func TestResolveCitationsDropsUnknownAndDuplicates(t *testing.T) {
	passages := []model.ScoredRecord{
		{EmbeddingRecord: model.NewEmbeddingRecord("x", []float32{1}, map[string]interface{}{
			"video_id": "A", "start_time": 100.0, "title": "Title A",
		})},
	}
	refs := []citationRef{
		{VideoID: "A", StartTime: 100.4},
		{VideoID: "A", StartTime: 100},
		{VideoID: "A", StartTime: 101},
		{VideoID: "B", StartTime: 100},
	}

	citations := resolveCitations(context.Background(), refs, passages, 0)
	require.Len(t, citations, 1)
	assert.Equal(t, "Title A", citations[0].Title)
	assert.Equal(t, "https://www.youtube.com/watch?v=A&t=100s", citations[0].URL)
}

func TestRenderMarkdown(t *testing.T) {
	result := &model.QueryResult{
		Answer: "Greg founded it.",
		Sources: []model.VideoSources{{
			VideoID:     "A",
			Title:       "Founding Story",
			ShowName:    "Daily",
			PublishedAt: "2023-01-01",
			Timestamps:  []model.SourceTimestamp{{Seconds: 65, Formatted: "1:05", URL: "https://www.youtube.com/watch?v=A&t=65s"}},
		}},
	}
	assert.Equal(t, "Greg founded it.\n\n---\n**Sources:**\n"+
		"- **Founding Story** (Daily, 2023-01-01)\n"+
		"  - [1:05](https://www.youtube.com/watch?v=A&t=65s)\n", RenderMarkdown(result))

	result.Sources = nil
	assert.Equal(t, "Greg founded it.\n\n---\n**Sources:**\n- No direct sources cited in the response.\n", RenderMarkdown(result))

	none := &model.QueryResult{Answer: NoSourcesMessage, NoSources: true}
	assert.Equal(t, NoSourcesMessage, RenderMarkdown(none))
}
