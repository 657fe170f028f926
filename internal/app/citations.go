package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"transcript-rag/internal/ai"
	"transcript-rag/internal/logging"
	"transcript-rag/internal/model"
)

// Start times from the model are matched to retrieved passages within this
// many seconds; models round 927.31 to 927.3 or 927.
const citationTolerance = 0.5

const noCitedSources = "- No direct sources cited in the response."

var (
	parenGroup   = regexp.MustCompile(`\(([^()]*)\)`)
	citationPair = regexp.MustCompile(`([A-Za-z0-9_-]+)\s*,\s*(?:start_time\s*[:=]\s*)?(\d+(?:\.\d+)?)\s*s?`)
)

type citationRef struct {
	VideoID   string  `json:"video_id"`
	StartTime float64 `json:"start_time"`
}

type agentResponse struct {
	QueryResponse string        `json:"query_response"`
	Sources       []citationRef `json:"sources"`
}

// parseAnswer splits a model reply into the prose answer and the citations
// it makes. Both inline "(video_id, start_time)" markers and a JSON reply
// with a sources list are understood.
func parseAnswer(resp string) (string, []citationRef) {
	body := ai.StripFences(ai.StripThinking(resp))

	var structured agentResponse
	if strings.HasPrefix(body, "{") && json.Unmarshal([]byte(body), &structured) == nil && structured.QueryResponse != "" {
		answer := strings.TrimSpace(structured.QueryResponse)
		return answer, append(extractCitations(answer), structured.Sources...)
	}
	return body, extractCitations(body)
}

func extractCitations(text string) []citationRef {
	var refs []citationRef
	for _, group := range parenGroup.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(group[1], ";") {
			for _, m := range citationPair.FindAllStringSubmatch(part, -1) {
				start, err := strconv.ParseFloat(m[2], 64)
				if err != nil {
					continue
				}
				refs = append(refs, citationRef{VideoID: m[1], StartTime: start})
			}
		}
	}
	return refs
}

// resolveCitations maps refs onto retrieved passages in order of first
// appearance. Refs with no matching passage are logged and dropped.
func resolveCitations(ctx context.Context, refs []citationRef, passages []model.ScoredRecord, buffer int) []model.Citation {
	logger := logging.From(ctx)
	seen := make(map[model.ChunkKey]struct{}, len(refs))
	citations := make([]model.Citation, 0, len(refs))

	for _, ref := range refs {
		passage, ok := matchPassage(ref, passages)
		if !ok {
			unresolved := &CitationUnresolved{VideoID: ref.VideoID, StartTime: ref.StartTime}
			logger.Warn("dropping unresolved citation", "error", unresolved.Error())
			continue
		}
		key := model.ChunkKey{VideoID: passage.VideoID(), StartTime: passage.StartTime()}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		citations = append(citations, model.Citation{
			VideoID:   key.VideoID,
			Title:     model.MetaString(passage.CMetadata, model.MetaTitle),
			StartTime: key.StartTime,
			Timestamp: ApproxTimestamp(key.StartTime),
			URL:       WatchURL(key.VideoID, bufferedSeconds(key.StartTime, buffer)),
		})
	}
	return citations
}

func matchPassage(ref citationRef, passages []model.ScoredRecord) (model.ScoredRecord, bool) {
	best, found := model.ScoredRecord{}, false
	bestDiff := math.Inf(1)
	for _, p := range passages {
		if p.VideoID() != ref.VideoID {
			continue
		}
		diff := math.Abs(p.StartTime() - ref.StartTime)
		if diff <= citationTolerance && diff < bestDiff {
			best, bestDiff, found = p, diff, true
		}
	}
	return best, found
}

// groupSources collects citations per video, videos ordered by publish date
// and timestamps ascending.
func groupSources(citations []model.Citation, passages []model.ScoredRecord, buffer int) []model.VideoSources {
	meta := make(map[string]map[string]interface{}, len(passages))
	for _, p := range passages {
		if _, ok := meta[p.VideoID()]; !ok {
			meta[p.VideoID()] = p.CMetadata
		}
	}

	byVideo := make(map[string]*model.VideoSources)
	var order []string
	for _, c := range citations {
		vs, ok := byVideo[c.VideoID]
		if !ok {
			m := meta[c.VideoID]
			vs = &model.VideoSources{
				VideoID:      c.VideoID,
				Title:        c.Title,
				ShowName:     model.MetaString(m, model.MetaShowName),
				PublishedAt:  model.MetaString(m, model.MetaPublishedAt),
				ThumbnailURL: ThumbnailURL(c.VideoID),
			}
			byVideo[c.VideoID] = vs
			order = append(order, c.VideoID)
		}
		sec := bufferedSeconds(c.StartTime, buffer)
		vs.Timestamps = append(vs.Timestamps, model.SourceTimestamp{
			Seconds:   sec,
			Formatted: ClockTimestamp(sec),
			URL:       c.URL,
		})
	}

	sources := make([]model.VideoSources, 0, len(order))
	for _, id := range order {
		vs := byVideo[id]
		sort.SliceStable(vs.Timestamps, func(i, j int) bool {
			return vs.Timestamps[i].Seconds < vs.Timestamps[j].Seconds
		})
		sources = append(sources, *vs)
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].PublishedAt < sources[j].PublishedAt
	})
	return sources
}

// RenderMarkdown formats an answer followed by its grouped sources.
func RenderMarkdown(r *model.QueryResult) string {
	if r == nil {
		return ""
	}
	if r.NoSources {
		return r.Answer
	}

	var b strings.Builder
	b.WriteString(r.Answer)
	b.WriteString("\n\n---\n**Sources:**\n")
	if len(r.Sources) == 0 {
		b.WriteString(noCitedSources)
		b.WriteString("\n")
		return b.String()
	}
	for _, vs := range r.Sources {
		title := vs.Title
		if title == "" {
			title = vs.VideoID
		}
		fmt.Fprintf(&b, "- **%s**", title)
		if vs.ShowName != "" || vs.PublishedAt != "" {
			fmt.Fprintf(&b, " (%s)", strings.Trim(vs.ShowName+", "+vs.PublishedAt, ", "))
		}
		b.WriteString("\n")
		for _, ts := range vs.Timestamps {
			fmt.Fprintf(&b, "  - [%s](%s)\n", ts.Formatted, ts.URL)
		}
	}
	return b.String()
}

// ApproxTimestamp renders seconds as "~MMm SSs".
func ApproxTimestamp(seconds float64) string {
	total := int(math.Max(seconds, 0))
	return fmt.Sprintf("~%02dm %02ds", total/60, total%60)
}

// ClockTimestamp renders seconds as H:MM:SS, or M:SS under an hour.
func ClockTimestamp(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds%3600/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func WatchURL(videoID string, seconds int) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID) + "&t=" + strconv.Itoa(seconds) + "s"
}

func ThumbnailURL(videoID string) string {
	return "https://i.ytimg.com/vi/" + url.PathEscape(videoID) + "/mqdefault.jpg"
}

func bufferedSeconds(start float64, buffer int) int {
	sec := int(start) + buffer
	if sec < 0 {
		return 0
	}
	return sec
}
