package catalog

import (
	"os"

	"github.com/Gobusters/ectolinq"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/clover/pkg/models"
)

// ExclusionSet holds external ids that must never reach persistence.
type ExclusionSet map[int64]struct{}

func NewExclusionSet(nmIDs ...int64) ExclusionSet {
	set := make(ExclusionSet, len(nmIDs))
	for _, id := range nmIDs {
		set[id] = struct{}{}
	}
	return set
}

func (s ExclusionSet) Contains(nmID int64) bool {
	_, ok := s[nmID]
	return ok
}

// FilterExcluded returns the cards whose nm_id is not in excluded.
func FilterExcluded(cards []models.Card, excluded ExclusionSet) []models.Card {
	if len(excluded) == 0 {
		return cards
	}
	return ectolinq.Filter(cards, func(card models.Card) bool {
		return !excluded.Contains(card.NmID)
	})
}

type exclusionsFile struct {
	ExcludedNmIDs []int64 `yaml:"excluded_nm_ids"`
}

// LoadExclusions reads an operator-maintained YAML deny-list:
//
//	excluded_nm_ids:
//	  - 123456
//
// An empty path or a missing file yields an empty set.
func LoadExclusions(path string) (ExclusionSet, error) {
	if path == "" {
		return NewExclusionSet(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewExclusionSet(), nil
		}
		return nil, errors.Wrap(err, "failed to read exclusions file")
	}

	var file exclusionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse exclusions file %s", path)
	}

	return NewExclusionSet(file.ExcludedNmIDs...), nil
}
