package dash

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMPD = `<?xml version="1.0" encoding="utf-8"?>
<MPD type="static" profiles="urn:mpeg:dash:profile:isoff-live:2011"
     minBufferTime="PT8S" maxSegmentDuration="PT12.00S"
     availabilityStartTime="1970-01-01T00:00:00Z">
  <Period id="p_3_0" start="PT0S">
    <BaseURL>3/</BaseURL>
    <AdaptationSet id="1" contentType="video" mimeType="video/mp4" maxWidth="1920" maxHeight="1080">
      <SegmentTemplate timescale="1000" initialization="$RepresentationID$/init.mp4" media="$RepresentationID$/$Time$.m4s">
        <SegmentTimeline>
          <S t="0" d="4000" r="1"/>
        </SegmentTimeline>
      </SegmentTemplate>
      <Representation id="v5000000" bandwidth="5000000" codecs="avc1.64001f"/>
      <Representation id="v1500000" bandwidth="1500000" codecs="avc1.64001e"/>
    </AdaptationSet>
    <AdaptationSet id="3" contentType="audio" lang="en" mimeType="audio/mp4">
      <SegmentTemplate timescale="1000" initialization="$RepresentationID$/init.mp4" media="$RepresentationID$/$Time$.m4s">
        <SegmentTimeline>
          <S t="0" d="4000" r="1"/>
        </SegmentTimeline>
      </SegmentTemplate>
      <Representation id="a128000" bandwidth="128000" codecs="mp4a.40.2"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseMPD(t *testing.T) {
	mpd, err := Parse([]byte(sampleMPD))
	require.NoError(t, err)

	assert.Equal(t, "static", mpd.Type)
	assert.Equal(t, "PT8S", mpd.MinBufferTime)
	assert.Equal(t, "PT12.00S", mpd.MaxSegmentDuration)

	require.Len(t, mpd.Periods, 1)
	period := mpd.Periods[0]
	assert.Equal(t, "p_3_0", period.ID)
	assert.Equal(t, "3/", period.BaseURL)
	require.Len(t, period.Sets, 2)

	videoSet := period.Sets[0]
	assert.Equal(t, "1", videoSet.ID)
	assert.Equal(t, "video", videoSet.ContentType)
	assert.Equal(t, 1920, videoSet.MaxWidth)
	assert.Equal(t, 1080, videoSet.MaxHeight)
	require.Len(t, videoSet.Representations, 2)
	assert.Equal(t, "v5000000", videoSet.Representations[0].ID)
	assert.Equal(t, 5000000, videoSet.Representations[0].Bandwidth)

	audioSet := period.Sets[1]
	assert.Equal(t, "en", audioSet.Lang)
	assert.Equal(t, "audio", audioSet.ContentType)
	require.Len(t, audioSet.Representations, 1)
	assert.Equal(t, 128000, audioSet.Representations[0].Bandwidth)
}

func TestBuildPresentation_ExpandsTimelineAndURLs(t *testing.T) {
	mpd, err := Parse([]byte(sampleMPD))
	require.NoError(t, err)

	presentation, err := BuildPresentation("https://cdn.example.com/live/manifest.mpd", mpd)
	require.NoError(t, err)

	assert.Equal(t, "static", presentation.Type)
	require.Contains(t, presentation.AdaptationSets, "1")

	video := presentation.AdaptationSets["1"]
	require.Contains(t, video.Representations, "v5000000")
	rep := video.Representations["v5000000"]

	assert.Equal(t, "https://cdn.example.com/live/3/v5000000/init.mp4", rep.InitURL)
	require.Len(t, rep.Segments, 2)
	assert.Equal(t, 0, rep.Segments[0].Index)
	assert.Equal(t, "https://cdn.example.com/live/3/v5000000/0.m4s", rep.Segments[0].URL)
	assert.Equal(t, 4*time.Second, rep.Segments[0].Duration)
	assert.Equal(t, "https://cdn.example.com/live/3/v5000000/4000.m4s", rep.Segments[1].URL)
}

func TestMPD_GetMinimumUpdatePeriod(t *testing.T) {
	mpd := &MPD{MinimumUpdatePeriod: "PT8S"}
	d, err := mpd.GetMinimumUpdatePeriod()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, d)
}

func TestPeriod_GetStart_DefaultsToZero(t *testing.T) {
	p := &Period{}
	d, err := p.GetStart()
	require.NoError(t, err)
	assert.Zero(t, d)
}
