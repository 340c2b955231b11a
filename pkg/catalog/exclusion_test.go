package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestFilterExcluded(t *testing.T) {
	cards := []models.Card{{NmID: 100}, {NmID: 200}, {NmID: 300}}

	tests := []struct {
		name     string
		excluded ExclusionSet
		expected []int64
	}{
		{name: "empty set keeps everything", excluded: NewExclusionSet(), expected: []int64{100, 200, 300}},
		{name: "nil set keeps everything", excluded: nil, expected: []int64{100, 200, 300}},
		{name: "exact match removed", excluded: NewExclusionSet(200), expected: []int64{100, 300}},
		{name: "no prefix semantics", excluded: NewExclusionSet(10, 20, 2000), expected: []int64{100, 200, 300}},
		{name: "everything excluded", excluded: NewExclusionSet(100, 200, 300), expected: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FilterExcluded(cards, tt.excluded)

			ids := make([]int64, 0, len(result))
			for _, c := range result {
				ids = append(ids, c.NmID)
			}
			assert.Equal(t, tt.expected, ids)
		})
	}

	assert.Len(t, cards, 3, "input must not be modified")
}

func TestLoadExclusions(t *testing.T) {
	dir := t.TempDir()

	t.Run("reads yaml list", func(t *testing.T) {
		path := filepath.Join(dir, "exclusions.yaml")
		require.NoError(t, os.WriteFile(path, []byte("excluded_nm_ids:\n  - 100\n  - 200\n"), 0o600))

		set, err := LoadExclusions(path)
		require.NoError(t, err)
		assert.True(t, set.Contains(100))
		assert.True(t, set.Contains(200))
		assert.False(t, set.Contains(300))
	})

	t.Run("missing file is empty", func(t *testing.T) {
		set, err := LoadExclusions(filepath.Join(dir, "missing.yaml"))
		require.NoError(t, err)
		assert.Empty(t, set)
	})

	t.Run("empty path is empty", func(t *testing.T) {
		set, err := LoadExclusions("")
		require.NoError(t, err)
		assert.Empty(t, set)
	})

	t.Run("malformed file fails", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("excluded_nm_ids: [abc"), 0o600))

		_, err := LoadExclusions(path)
		assert.Error(t, err)
	})
}
