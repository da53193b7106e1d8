package dash

import (
	"fmt"
	"sort"
	"time"

	"dashgov/internal/models"
)

// BuildPresentation flattens every Period/AdaptationSet/Representation in an
// MPD into the scheduler-facing models.Presentation, expanding each
// SegmentTemplate's SegmentTimeline into a concrete, index-addressed segment
// list. Per spec.md section 3's invariant, every representation within one
// adaptation set gets the same number of segments with the same per-index
// duration — this function expands the timeline once per adaptation set and
// shares it across representations, rather than re-walking it per
// representation, to make that invariant structural rather than assumed.
func BuildPresentation(mpdLocationURL string, mpd *MPD) (*models.Presentation, error) {
	presentation := &models.Presentation{
		Type:           mpd.Type,
		AdaptationSets: make(map[string]*models.AdaptationSet),
	}

	for pi := range mpd.Periods {
		period := &mpd.Periods[pi]
		for si := range period.Sets {
			as := &period.Sets[si]

			times := expandTimeline(as.SegmentTemplate.Timeline)
			timescale := as.SegmentTemplate.Timescale
			if timescale == 0 {
				timescale = 1
			}

			modelAS, exists := presentation.AdaptationSets[as.ID]
			if !exists {
				modelAS = &models.AdaptationSet{
					ID:              as.ID,
					ContentType:     as.ContentType,
					Representations: make(map[string]*models.Representation),
				}
				presentation.AdaptationSets[as.ID] = modelAS
				presentation.AdaptationSetOrder = append(presentation.AdaptationSetOrder, as.ID)
			}

			for ri := range as.Representations {
				rep := &as.Representations[ri]

				initURL, err := BuildInitSegmentURL(mpdLocationURL, period, as, rep)
				if err != nil {
					return nil, fmt.Errorf("adaptation set %s representation %s: %w", as.ID, rep.ID, err)
				}

				segments := make([]models.Segment, 0, len(times))
				for idx, t := range times {
					segURL, err := BuildSegmentURL(mpdLocationURL, period, as, rep, t.start)
					if err != nil {
						return nil, fmt.Errorf("adaptation set %s representation %s segment %d: %w", as.ID, rep.ID, idx, err)
					}
					segments = append(segments, models.Segment{
						Index:    idx,
						URL:      segURL,
						Duration: time.Duration(float64(t.duration) / float64(timescale) * float64(time.Second)),
					})
				}

				modelAS.Representations[rep.ID] = &models.Representation{
					AdaptationSetID: as.ID,
					ID:              rep.ID,
					Bandwidth:       rep.Bandwidth,
					InitURL:         initURL,
					Segments:        segments,
				}
				modelAS.RepresentationOrder = append(modelAS.RepresentationOrder, rep.ID)
			}
		}
	}

	return presentation, nil
}

type timelineEntry struct {
	start    uint64
	duration uint64
}

// expandTimeline walks a SegmentTimeline's <S> elements (t/d/r) into one
// entry per segment, in index order.
func expandTimeline(timeline SegmentTimeline) []timelineEntry {
	var entries []timelineEntry
	var cursor uint64

	for _, s := range timeline.Segments {
		if s.T > 0 {
			cursor = s.T
		}
		repeat := s.R
		if repeat < 0 {
			// An unbounded repeat (open live edge) is out of scope for this
			// client; treat it as a single segment rather than looping
			// forever.
			repeat = 0
		}
		for i := 0; i <= repeat; i++ {
			entries = append(entries, timelineEntry{start: cursor, duration: s.D})
			cursor += s.D
		}
	}
	return entries
}

// MergeTimelines combines two SegmentTimelines, removing duplicates and
// keeping the result sorted by start time. Used by the MPD provider's
// refresh path to extend a dynamic manifest's timeline without discarding
// segments the old timeline already knew about.
func MergeTimelines(oldTimeline, newTimeline SegmentTimeline) SegmentTimeline {
	seen := make(map[uint64]S)

	for _, s := range oldTimeline.Segments {
		seen[s.T] = s
	}
	for _, s := range newTimeline.Segments {
		seen[s.T] = s
	}

	merged := make([]S, 0, len(seen))
	for _, s := range seen {
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].T < merged[j].T
	})

	return SegmentTimeline{Segments: merged}
}
