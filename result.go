package mediaresolve

import "strings"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// bestQualityMarker is the marker some upstreams put in a quality label to
// flag their highest-quality rendition.
const bestQualityMarker = "⭐"

// FormatVariant is one downloadable rendition of the resolved media.
type FormatVariant struct {
	Quality     string `json:"quality"`
	Container   string `json:"container"`
	SizeBytes   *int64 `json:"size_bytes"`
	DownloadURL string `json:"download_url"`
	HasVideo    bool   `json:"has_video"`
	HasAudio    bool   `json:"has_audio"`
	Note        string `json:"note"`
}

// MediaData is the canonical payload all providers are normalized into.
type MediaData struct {
	Title           string          `json:"title"`
	Author          string          `json:"author,omitempty"`
	Thumbnail       string          `json:"thumbnail,omitempty"`
	DurationSeconds int             `json:"duration_seconds,omitempty"`
	Formats         []FormatVariant `json:"formats"`
}

// MediaResult is the canonical outcome of one resolution. Formats is
// non-empty when Status is "success" and absent on "error".
type MediaResult struct {
	Status  string     `json:"status"`
	Message string     `json:"message,omitempty"`
	Data    *MediaData `json:"data,omitempty"`
}

func (r *MediaResult) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// Success wraps normalized media data as a successful result.
func Success(data *MediaData) MediaResult {
	return MediaResult{Status: StatusSuccess, Data: data}
}

// Failure builds an error result with a kind-specific message.
func Failure(kind Kind, msg string) MediaResult {
	return MediaResult{Status: StatusError, Message: string(kind) + ": " + msg}
}

// ResultOf converts a resolution error into the canonical error result. Plain
// errors that escaped classification are treated as upstream failures.
func ResultOf(err error) MediaResult {
	if e, ok := err.(*Error); ok {
		return Failure(e.Kind, e.Msg)
	}
	return Failure(KindOf(err), err.Error())
}

// FormatNote derives the descriptive label for a format: capability labels
// ("Video", "Audio") in that order, then "Best Quality" if the upstream
// quality label carries the superlative marker. Labels join with " + ".
func FormatNote(hasVideo, hasAudio bool, quality string) string {
	var notes []string
	if hasVideo {
		notes = append(notes, "Video")
	}
	if hasAudio {
		notes = append(notes, "Audio")
	}
	if strings.Contains(quality, bestQualityMarker) {
		notes = append(notes, "Best Quality")
	}
	return strings.Join(notes, " + ")
}
