package model

import "strconv"

const (
	MetaVideoID     = "video_id"
	MetaStartTime   = "start_time"
	MetaTitle       = "title"
	MetaShowName    = "show_name"
	MetaHosts       = "hosts"
	MetaPublishedAt = "published_at"
)

// BackfillKeys are the video-level keys every embedding row must end up with.
var BackfillKeys = []string{MetaShowName, MetaHosts, MetaPublishedAt}

// VideoMetadata returns the backfill keys for v in their stored JSON shape.
func VideoMetadata(v Video) map[string]interface{} {
	hosts := make([]interface{}, 0, len(v.Hosts))
	for _, h := range v.Hosts {
		hosts = append(hosts, h)
	}
	return map[string]interface{}{
		MetaShowName:    v.ShowName,
		MetaHosts:       hosts,
		MetaPublishedAt: v.PublishedDate(),
	}
}

// IdentityMetadata is what the loader writes for a chunk before any backfill.
func IdentityMetadata(c TranscriptChunk, title string) map[string]interface{} {
	meta := map[string]interface{}{
		MetaVideoID:   c.VideoID,
		MetaStartTime: c.StartTime,
	}
	if title != "" {
		meta[MetaTitle] = title
	}
	return meta
}

// MergeMissing copies keys from src that dst lacks. Existing keys are never
// overwritten. The returned map is a fresh copy; changed reports whether any
// key was added.
func MergeMissing(dst, src map[string]interface{}) (merged map[string]interface{}, changed bool) {
	merged = make(map[string]interface{}, len(dst)+len(src))
	for k, v := range dst {
		merged[k] = v
	}
	for k, v := range src {
		if _, ok := merged[k]; ok {
			continue
		}
		merged[k] = v
		changed = true
	}
	return merged, changed
}

func HasAllKeys(m map[string]interface{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

// MetaString reads a string value, tolerating numbers.
func MetaString(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// MetaFloat reads a numeric value, tolerating numeric strings.
func MetaFloat(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func MetaStrings(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return SplitHosts(v)
	default:
		return nil
	}
}
