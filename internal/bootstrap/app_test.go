package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	columns map[string]bool
	asked   []string
}

func (m *fakeMigrator) HasColumn(_ interface{}, field string) bool {
	m.asked = append(m.asked, field)
	return m.columns[field]
}

func TestRequireCleanedColumn(t *testing.T) {
	present := &fakeMigrator{columns: map[string]bool{"CleanedAt": true}}
	require.NoError(t, requireCleanedColumn(present))
	assert.Equal(t, []string{"CleanedAt"}, present.asked)

	err := requireCleanedColumn(&fakeMigrator{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALTER TABLE video_transcript_chunks ADD COLUMN cleaned_at")
}
