package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"transcript-rag/internal/ai"
	"transcript-rag/internal/embedding"
	"transcript-rag/internal/logging"
	"transcript-rag/internal/model"
	"transcript-rag/internal/repository"
)

const (
	defaultTopK = 6
	maxTopK     = 50

	NoSourcesMessage = "I could not find any relevant documents to answer your question. Please try rephrasing."
)

type VectorSearcher interface {
	Search(ctx context.Context, vec []float32, k int, filter repository.SearchFilter) ([]model.ScoredRecord, error)
}

type AnswerCache interface {
	GetAnswer(ctx context.Context, question string, topK int) (*model.QueryResult, bool, error)
	SetAnswer(ctx context.Context, question string, topK int, result model.QueryResult) error
}

type QueryOptions struct {
	TopK            int
	MinScore        float64
	TimestampBuffer int
}

type AskInput struct {
	Question string
	TopK     int
}

type QueryAgent struct {
	searcher VectorSearcher
	embedder embedding.Embedder
	llm      ChatCompleter
	chatLLM  ai.ChatConfig
	parser   *QueryParser     // nil disables self-query filtering
	metadata *MetadataService // required when parser is set
	cache    AnswerCache
	opts     QueryOptions
}

func NewQueryAgent(
	searcher VectorSearcher,
	embedder embedding.Embedder,
	llm ChatCompleter,
	chatLLM ai.ChatConfig,
	parser *QueryParser,
	metadata *MetadataService,
	cache AnswerCache,
	opts QueryOptions,
) *QueryAgent {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	return &QueryAgent{
		searcher: searcher,
		embedder: embedder,
		llm:      llm,
		chatLLM:  chatLLM,
		parser:   parser,
		metadata: metadata,
		cache:    cache,
		opts:     opts,
	}
}

var answerTemplate = template.Must(template.New("answer").Parse(answerPrompt))

// Ask answers one question from the top-K passages. When no passage clears
// the similarity floor the result has NoSources set and the model is not
// called. Unresolvable citations are dropped from the result.
func (a *QueryAgent) Ask(ctx context.Context, input AskInput) (*model.QueryResult, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrInvalidInput
	}
	topK := input.TopK
	if topK <= 0 {
		topK = a.opts.TopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}
	logger := logging.From(ctx)

	if a.cache != nil {
		cached, ok, err := a.cache.GetAnswer(ctx, question, topK)
		if err != nil {
			logger.Warn("answer cache read failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	passages, topics, err := a.retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		logger.Info("no passages above similarity floor", "reason", ErrRetrievalEmpty, "min_score", a.opts.MinScore)
		return &model.QueryResult{
			Question:  question,
			Answer:    NoSourcesMessage,
			Citations: []model.Citation{},
			Sources:   []model.VideoSources{},
			NoSources: true,
		}, nil
	}

	sortPassages(passages)
	prompt, err := buildAnswerPrompt(question, passages, topics)
	if err != nil {
		return nil, err
	}
	resp, err := a.llm.Complete(ctx, a.chatLLM, []ai.ChatMessage{
		{Role: ai.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, upstream("answer", question, err)
	}

	answer, refs := parseAnswer(resp)
	citations := resolveCitations(ctx, refs, passages, a.opts.TimestampBuffer)
	result := &model.QueryResult{
		Question:  question,
		Answer:    answer,
		Citations: citations,
		Sources:   groupSources(citations, passages, a.opts.TimestampBuffer),
	}

	if a.cache != nil {
		if err := a.cache.SetAnswer(ctx, question, topK, *result); err != nil {
			logger.Warn("answer cache write failed", "error", err)
		}
	}
	return result, nil
}

// retrieve runs one search for the question and, with self-query enabled,
// one per extracted topic. Hits are merged by best score.
func (a *QueryAgent) retrieve(ctx context.Context, question string, topK int) ([]model.ScoredRecord, []string, error) {
	filter := repository.SearchFilter{MinScore: a.opts.MinScore}
	queries := []string{question}
	var topics []string

	if a.parser != nil && a.metadata != nil {
		catalog, err := a.metadata.Catalog(ctx)
		if err != nil {
			return nil, nil, err
		}
		parsed, err := a.parser.Parse(ctx, question, *catalog)
		if err != nil {
			return nil, nil, err
		}
		filter = a.parser.Filter(parsed, a.opts.MinScore)
		topics = parsed.Topics
		queries = append(queries, topics...)
		logging.From(ctx).Debug("parsed query", "shows", filter.ShowNames, "hosts", filter.Hosts,
			"from", filter.PublishedFrom, "to", filter.PublishedTo, "topics", topics)
	}

	vecs, err := a.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, nil, upstream("embed", question, err)
	}

	best := make(map[model.ChunkKey]model.ScoredRecord)
	for _, vec := range vecs {
		hits, err := a.searcher.Search(ctx, vec, topK, filter)
		if err != nil {
			return nil, nil, upstream("search", question, err)
		}
		for _, hit := range hits {
			if hit.Score < a.opts.MinScore {
				continue
			}
			key := model.ChunkKey{VideoID: hit.VideoID(), StartTime: hit.StartTime()}
			if prev, ok := best[key]; !ok || hit.Score > prev.Score {
				best[key] = hit
			}
		}
	}

	merged := make([]model.ScoredRecord, 0, len(best))
	for _, hit := range best {
		merged = append(merged, hit)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].DocumentHash < merged[j].DocumentHash
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, topics, nil
}

// sortPassages orders context chronologically.
func sortPassages(passages []model.ScoredRecord) {
	sort.SliceStable(passages, func(i, j int) bool {
		pi := model.MetaString(passages[i].CMetadata, model.MetaPublishedAt)
		pj := model.MetaString(passages[j].CMetadata, model.MetaPublishedAt)
		if pi != pj {
			return pi < pj
		}
		if passages[i].VideoID() != passages[j].VideoID() {
			return passages[i].VideoID() < passages[j].VideoID()
		}
		return passages[i].StartTime() < passages[j].StartTime()
	})
}

func buildAnswerPrompt(question string, passages []model.ScoredRecord, topics []string) (string, error) {
	var ctxBlock strings.Builder
	for i, p := range passages {
		meta, err := json.Marshal(p.CMetadata)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&ctxBlock, "TRANSCRIPT #%d TEXT:\n```text\n%s\n```\nTRANSCRIPT #%d METADATA:\n```json\n%s\n```\n\n",
			i+1, p.Document, i+1, meta)
	}

	var b strings.Builder
	err := answerTemplate.Execute(&b, map[string]string{
		"Context":  strings.TrimSpace(ctxBlock.String()),
		"Topics":   strings.Join(topics, ", "),
		"Question": question,
	})
	return b.String(), err
}
