package dash

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// Parse unmarshals raw manifest bytes into an MPD tree.
func Parse(data []byte) (*MPD, error) {
	var mpd MPD
	if err := xml.Unmarshal(data, &mpd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MPD XML: %w", err)
	}
	return &mpd, nil
}

// resolveURL resolves a path against a base URL, handling potential errors.
func resolveURL(base *url.URL, path string) (*url.URL, error) {
	resolvedPath, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse path '%s': %w", path, err)
	}
	return base.ResolveReference(resolvedPath), nil
}

// periodBase resolves the effective base URL for a period: the MPD location
// unless the period declares its own BaseURL, per spec.md section 6's "MPD"
// contract (resolve against the MPD location and the Period's BaseURL tag).
func periodBase(mpdLocationURL string, period *Period) (*url.URL, error) {
	mpdURL, err := url.Parse(mpdLocationURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mpdLocationURL '%s': %w", mpdLocationURL, err)
	}
	if period.BaseURL == "" {
		return mpdURL, nil
	}
	return resolveURL(mpdURL, period.BaseURL)
}

// BuildInitSegmentURL constructs the full URL for an initialization segment.
func BuildInitSegmentURL(mpdLocationURL string, period *Period, as *AdaptationSet, rep *Representation) (string, error) {
	base, err := periodBase(mpdLocationURL, period)
	if err != nil {
		return "", fmt.Errorf("failed to resolve period BaseURL: %w", err)
	}

	initPath := strings.Replace(as.SegmentTemplate.Initialization, "$RepresentationID$", rep.ID, 1)
	finalURL, err := resolveURL(base, initPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve init path: %w", err)
	}

	return finalURL.String(), nil
}

// BuildSegmentURL constructs the full URL for a media segment.
func BuildSegmentURL(mpdLocationURL string, period *Period, as *AdaptationSet, rep *Representation, segTime uint64) (string, error) {
	base, err := periodBase(mpdLocationURL, period)
	if err != nil {
		return "", fmt.Errorf("failed to resolve period BaseURL: %w", err)
	}

	mediaPath := strings.Replace(as.SegmentTemplate.Media, "$RepresentationID$", rep.ID, 1)
	mediaPath = strings.Replace(mediaPath, "$Time$", fmt.Sprintf("%d", segTime), 1)
	finalURL, err := resolveURL(base, mediaPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve media path: %w", err)
	}

	return finalURL.String(), nil
}
