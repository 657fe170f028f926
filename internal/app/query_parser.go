package app

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"text/template"
	"time"

	"transcript-rag/internal/ai"
	"transcript-rag/internal/logging"
	"transcript-rag/internal/model"
	"transcript-rag/internal/repository"
)

// Catalog lists the filter values a question may refer to.
type Catalog struct {
	Shows []string `json:"shows"`
	Hosts []string `json:"hosts"`
}

// ParsedQuery is what the parser model extracts from a question.
type ParsedQuery struct {
	Shows      []string `json:"shows"`
	Hosts      []string `json:"hosts"`
	ExactYear  string   `json:"exact_year"`
	BeforeYear string   `json:"before_year"`
	AfterYear  string   `json:"after_year"`
	YearRange  string   `json:"year_range"`
	Topics     []string `json:"topics"`
}

var parseUserTemplate = template.Must(template.New("parse").Parse(parseUserPrompt))

type QueryParser struct {
	llm     ChatCompleter
	cfg     ai.ChatConfig
	aliases map[string]string
	now     func() time.Time
}

func NewQueryParser(llm ChatCompleter, cfg ai.ChatConfig, aliases map[string]string) *QueryParser {
	normalized := make(map[string]string, len(aliases))
	for alias, host := range aliases {
		normalized[strings.ToLower(strings.TrimSpace(alias))] = host
	}
	return &QueryParser{llm: llm, cfg: cfg, aliases: normalized, now: time.Now}
}

// Parse asks the parser model for filters. A reply that is not valid JSON
// yields an empty query so the search runs unfiltered.
func (p *QueryParser) Parse(ctx context.Context, question string, catalog Catalog) (*ParsedQuery, error) {
	var b strings.Builder
	if err := parseUserTemplate.Execute(&b, map[string]string{
		"Shows":    strings.Join(catalog.Shows, "\n"),
		"Hosts":    strings.Join(catalog.Hosts, "\n"),
		"Question": question,
	}); err != nil {
		return nil, err
	}

	resp, err := p.llm.Complete(ctx, p.cfg, []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: parseSystemPrompt},
		{Role: ai.RoleUser, Content: b.String()},
	})
	if err != nil {
		return nil, upstream("parse", question, err)
	}

	var parsed ParsedQuery
	if err := json.Unmarshal([]byte(ai.StripFences(ai.StripThinking(resp))), &parsed); err != nil {
		logging.From(ctx).Warn("query parse reply is not json, searching unfiltered", "error", err)
		return &ParsedQuery{}, nil
	}
	parsed.Shows = matchKnown(parsed.Shows, catalog.Shows, nil)
	parsed.Hosts = matchKnown(parsed.Hosts, catalog.Hosts, p.aliases)
	parsed.Topics = compact(parsed.Topics)
	return &parsed, nil
}

// Filter turns the parsed query into search constraints.
func (p *QueryParser) Filter(q *ParsedQuery, minScore float64) repository.SearchFilter {
	filter := repository.SearchFilter{MinScore: minScore}
	if q == nil {
		return filter
	}
	filter.ShowNames = q.Shows
	filter.Hosts = q.Hosts
	filter.PublishedFrom, filter.PublishedTo = yearBounds(q, p.now().Year())
	return filter
}

// yearBounds resolves the year fields into an inclusive date range. An exact
// year wins over a range, a range over before/after.
func yearBounds(q *ParsedQuery, currentYear int) (from, to string) {
	if y, ok := parseYear(q.ExactYear); ok {
		return yearStart(y), yearEnd(y)
	}
	if a, b, ok := strings.Cut(q.YearRange, "-"); ok {
		start, ok1 := parseYear(a)
		end, ok2 := parseYear(b)
		if ok1 && ok2 {
			if start > end {
				start, end = end, start
			}
			return yearStart(start), yearEnd(end)
		}
	}
	if y, ok := parseYear(q.BeforeYear); ok {
		return model.DefaultPublishedAt.Format(model.PublishedDateLayout), yearEnd(y - 1)
	}
	if y, ok := parseYear(q.AfterYear); ok {
		return yearStart(y + 1), yearEnd(currentYear)
	}
	return "", ""
}

func parseYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 4 {
		return 0, false
	}
	y, err := strconv.Atoi(s)
	return y, err == nil && y > 1900
}

func yearStart(y int) string { return strconv.Itoa(y) + "-01-01" }
func yearEnd(y int) string   { return strconv.Itoa(y) + "-12-31" }

// matchKnown keeps values found in known, returned in their catalog
// spelling. aliases maps lower-cased nicknames to catalog names.
func matchKnown(values, known []string, aliases map[string]string) []string {
	index := make(map[string]string, len(known))
	for _, k := range known {
		index[strings.ToLower(k)] = k
	}

	var out []string
	seen := map[string]struct{}{}
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if canonical, ok := aliases[key]; ok {
			key = strings.ToLower(canonical)
		}
		name, ok := index[key]
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
