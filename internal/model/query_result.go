package model

// QueryResult is the answer to one question. It is never persisted.
type QueryResult struct {
	Question  string         `json:"question"`
	Answer    string         `json:"answer"`
	Citations []Citation     `json:"citations"`
	Sources   []VideoSources `json:"sources"`
	NoSources bool           `json:"no_sources"`
}

// Citation is a resolved reference into a retrieved passage.
type Citation struct {
	VideoID   string  `json:"video_id"`
	Title     string  `json:"title"`
	StartTime float64 `json:"start_time"`
	Timestamp string  `json:"timestamp"` // ~MMm SSs
	URL       string  `json:"url"`
}

// VideoSources groups the cited timestamps of one video.
type VideoSources struct {
	VideoID      string            `json:"video_id"`
	Title        string            `json:"title"`
	ShowName     string            `json:"show_name,omitempty"`
	PublishedAt  string            `json:"published_at,omitempty"`
	ThumbnailURL string            `json:"thumbnail_url"`
	Timestamps   []SourceTimestamp `json:"timestamps"`
}

type SourceTimestamp struct {
	Seconds   int    `json:"seconds"`
	Formatted string `json:"formatted"`
	URL       string `json:"url"`
}
