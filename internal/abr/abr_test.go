package abr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dashgov/internal/models"
)

func mkAdaptationSet() *models.AdaptationSet {
	as := &models.AdaptationSet{
		ID:                  "0",
		ContentType:         "video",
		Representations:     make(map[string]*models.Representation),
		RepresentationOrder: []string{"low", "mid", "high"},
	}
	as.Representations["low"] = &models.Representation{ID: "low", Bandwidth: 300_000}
	as.Representations["mid"] = &models.Representation{ID: "mid", Bandwidth: 1_000_000}
	as.Representations["high"] = &models.Representation{ID: "high", Bandwidth: 3_000_000}
	return as
}

func TestBandwidthBased_PicksHighestThatFits(t *testing.T) {
	sel := NewBandwidthBased()
	as := mkAdaptationSet()

	id := sel.Select(as, 1_200_000, 10)
	assert.Equal(t, "mid", id)
}

func TestBandwidthBased_FallsBackToLowestWhenNothingFits(t *testing.T) {
	sel := NewBandwidthBased()
	as := mkAdaptationSet()

	id := sel.Select(as, 100_000, 10)
	assert.Equal(t, "low", id)
}

func TestBandwidthBased_ExcludesTrickMode(t *testing.T) {
	sel := NewBandwidthBased()
	as := mkAdaptationSet()
	as.RepresentationOrder = append(as.RepresentationOrder, "TrickMode")
	as.Representations["TrickMode"] = &models.Representation{ID: "TrickMode", Bandwidth: 10}

	id := sel.Select(as, 10_000_000, 10)
	assert.Equal(t, "high", id)
}

func TestBetaSelector_DelegatesWhenNotForcingLowest(t *testing.T) {
	delegate := NewBandwidthBased()
	beta := NewBetaSelector(delegate)
	as := mkAdaptationSet()

	id := beta.Select(as, false, 1_200_000, 10)
	assert.Equal(t, "mid", id)
}

func TestBetaSelector_ChoosesAndCachesLowest(t *testing.T) {
	delegate := NewBandwidthBased()
	beta := NewBetaSelector(delegate)
	as := mkAdaptationSet()

	id := beta.Select(as, true, 10_000_000, 10)
	assert.Equal(t, "low", id)

	// Mutate the adaptation set; cached result must not change.
	as.Representations["new-lowest"] = &models.Representation{ID: "new-lowest", Bandwidth: 1}
	as.RepresentationOrder = append(as.RepresentationOrder, "new-lowest")

	id2 := beta.Select(as, true, 10_000_000, 10)
	assert.Equal(t, "low", id2)
}
