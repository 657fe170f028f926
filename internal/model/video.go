package model

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const PublishedDateLayout = "2006-01-02"

// DefaultPublishedAt stands in for videos without a publish date (2012-01-01 UTC).
var DefaultPublishedAt = time.Unix(1325376000, 0).UTC()

type Video struct {
	VideoID     string    `gorm:"primaryKey;size:32" json:"video_id"`
	Title       string    `gorm:"size:512" json:"title"`
	ShowName    string    `gorm:"size:255;index" json:"show_name"`
	Hosts       HostList  `json:"hosts"`
	PublishedAt time.Time `json:"published_at"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
}

func (Video) TableName() string {
	return "videos"
}

func (v Video) PublishedDate() string {
	if v.PublishedAt.IsZero() {
		return DefaultPublishedAt.Format(PublishedDateLayout)
	}
	return v.PublishedAt.UTC().Format(PublishedDateLayout)
}

// HostList is an ordered list of host names. It reads Postgres text[] values,
// JSON arrays (MySQL) and legacy comma-joined strings.
type HostList []string

func (h *HostList) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("unsupported hosts type %T", src)
	}

	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		*h = HostList{}
	case strings.HasPrefix(raw, "{"):
		var arr pq.StringArray
		if err := arr.Scan(raw); err != nil {
			return fmt.Errorf("scan hosts array failed: %w", err)
		}
		*h = HostList(arr)
	case strings.HasPrefix(raw, "["):
		var arr []string
		if err := json.Unmarshal([]byte(raw), &arr); err != nil {
			return fmt.Errorf("scan hosts json failed: %w", err)
		}
		*h = HostList(arr)
	default:
		*h = SplitHosts(raw)
	}
	return nil
}

func (h HostList) Value() (driver.Value, error) {
	return pq.StringArray(h).Value()
}

func (HostList) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "mysql" {
		return "json"
	}
	return "text[]"
}

func (h HostList) GormValue(_ context.Context, db *gorm.DB) clause.Expr {
	if db.Dialector.Name() == "mysql" {
		payload, _ := json.Marshal([]string(h))
		return clause.Expr{SQL: "?", Vars: []interface{}{string(payload)}}
	}
	return clause.Expr{SQL: "?", Vars: []interface{}{pq.StringArray(h)}}
}

// SplitHosts splits a comma-joined host string, dropping blanks.
func SplitHosts(raw string) HostList {
	parts := strings.Split(raw, ",")
	hosts := make(HostList, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			hosts = append(hosts, p)
		}
	}
	return hosts
}
