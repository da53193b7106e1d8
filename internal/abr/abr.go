// Package abr maps adaptation-set state to a chosen representation id, per
// spec.md section 4.D. Controller is the interface the scheduler depends
// on; BandwidthBased is the default policy, grounded on the teacher's
// selectRepresentations heuristic (one representation picked by bandwidth
// for each adaptation set, whatever its content type); BetaSelector wraps any Controller to add the
// "force lowest" axis the BETA governor's drop-and-replace path needs.
package abr

import (
	"strings"
	"sync"

	"dashgov/internal/models"
)

// Controller selects, for one adaptation set and a bandwidth estimate, the
// representation id the scheduler should download next.
type Controller interface {
	Select(as *models.AdaptationSet, bandwidthBitsPerSecond float64, bufferLevelSeconds float64) string
}

// BandwidthBased is the default ABR policy: pick the highest-bandwidth
// representation whose bitrate fits under the current bandwidth estimate,
// discounted by a safety margin, falling back to the lowest representation
// if none fit.
type BandwidthBased struct {
	// SafetyMargin shrinks the usable bandwidth estimate (e.g. 0.9 uses 90%
	// of the measured bandwidth), guarding against over-committing to a
	// noisy estimate.
	SafetyMargin float64
}

// NewBandwidthBased creates a BandwidthBased policy with a conservative
// default safety margin.
func NewBandwidthBased() *BandwidthBased {
	return &BandwidthBased{SafetyMargin: 0.9}
}

// Select implements Controller.
func (b *BandwidthBased) Select(as *models.AdaptationSet, bandwidthBitsPerSecond float64, bufferLevelSeconds float64) string {
	if len(as.RepresentationOrder) == 0 {
		return ""
	}

	margin := b.SafetyMargin
	if margin <= 0 {
		margin = 1.0
	}
	usable := bandwidthBitsPerSecond * margin

	var best *models.Representation
	var lowest *models.Representation
	for _, id := range as.RepresentationOrder {
		rep := as.Representations[id]
		if isTrickMode(rep.ID) {
			continue
		}
		if lowest == nil || rep.Bandwidth < lowest.Bandwidth {
			lowest = rep
		}
		if float64(rep.Bandwidth) <= usable {
			if best == nil || rep.Bandwidth > best.Bandwidth {
				best = rep
			}
		}
	}

	if best != nil {
		return best.ID
	}
	if lowest != nil {
		return lowest.ID
	}
	return as.RepresentationOrder[0]
}

func isTrickMode(repID string) bool {
	return strings.Contains(repID, "TrickMode")
}

// BetaSelector wraps an underlying Controller and adds a single behavioural
// axis: when Select is invoked with chooseLowest=true, it returns the
// representation with minimum bandwidth in the adaptation set, regardless
// of what the delegate would have chosen. The per-adaptation-set minimum is
// cached for O(1) subsequent access, per spec.md section 4.D.
type BetaSelector struct {
	delegate Controller

	mu      sync.Mutex
	lowest  map[string]string // adaptation set id -> lowest representation id
}

// NewBetaSelector wraps delegate.
func NewBetaSelector(delegate Controller) *BetaSelector {
	return &BetaSelector{
		delegate: delegate,
		lowest:   make(map[string]string),
	}
}

// Select chooses a representation for as. When chooseLowest is true it
// returns (and caches) the minimum-bandwidth representation rather than
// consulting the delegate.
func (s *BetaSelector) Select(as *models.AdaptationSet, chooseLowest bool, bandwidthBitsPerSecond float64, bufferLevelSeconds float64) string {
	if !chooseLowest {
		return s.delegate.Select(as, bandwidthBitsPerSecond, bufferLevelSeconds)
	}

	s.mu.Lock()
	if id, ok := s.lowest[as.ID]; ok {
		s.mu.Unlock()
		return id
	}
	s.mu.Unlock()

	id := s.computeLowest(as)

	s.mu.Lock()
	s.lowest[as.ID] = id
	s.mu.Unlock()

	return id
}

func (s *BetaSelector) computeLowest(as *models.AdaptationSet) string {
	var lowest *models.Representation
	for _, id := range as.RepresentationOrder {
		rep := as.Representations[id]
		if lowest == nil || rep.Bandwidth < lowest.Bandwidth {
			lowest = rep
		}
	}
	if lowest == nil {
		return ""
	}
	return lowest.ID
}
