package server

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var shortLinkPattern = regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]+)`)

// IsYouTubeURL reports whether the URL points at a YouTube video.
func IsYouTubeURL(rawURL string) bool {
	return strings.Contains(rawURL, "youtube.com") || strings.Contains(rawURL, "youtu.be")
}

// ExtractVideoID pulls the video id out of a YouTube URL. Both the
// youtu.be short form and the youtube.com watch form are handled. Returns
// empty when no id can be found.
func ExtractVideoID(rawURL string) string {
	if strings.Contains(rawURL, "youtu.be") {
		if m := shortLinkPattern.FindStringSubmatch(rawURL); m != nil {
			return m[1]
		}
		return ""
	}

	if strings.Contains(rawURL, "youtube.com") {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return ""
		}
		return parsed.Query().Get("v")
	}

	return ""
}

// CleanYouTubeURL strips tracking parameters by rebuilding the URL from the
// video id. URLs with no recognizable id pass through unchanged.
func CleanYouTubeURL(rawURL string) string {
	id := ExtractVideoID(rawURL)
	if id == "" {
		return rawURL
	}
	return "https://www.youtube.com/watch?v=" + id
}

// Transcript is an extracted video transcript.
type Transcript struct {
	VideoID     string
	Text        string
	Language    string
	IsGenerated bool
}

// TranscriptFetcher retrieves the transcript for a video id.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (*Transcript, error)
}

// FetchTranscript resolves a YouTube URL to its transcript through the
// given fetcher.
func FetchTranscript(ctx context.Context, fetcher TranscriptFetcher, rawURL string) (*Transcript, error) {
	id := ExtractVideoID(rawURL)
	if id == "" {
		return nil, fmt.Errorf("could not extract video ID from URL: %s", rawURL)
	}
	return fetcher.Fetch(ctx, id)
}
