package estimator

import (
	"strings"
	"time"

	"tagtimer/internal/nsapi"
	"tagtimer/internal/storage"
)

// Phrases that only appear when the update visits a nation.
var updateMarkers = []string{"influence in", "was ranked in the"}

// sampleInput is a feed event reduced to what a variance sample needs.
type sampleInput struct {
	Nation string
	At     time.Time
}

// newSampleInput keeps events that mark an update visit. The nation is the
// text before the first "@@" delimiter, ignoring a leading one.
func newSampleInput(ev nsapi.Event) (sampleInput, bool) {
	if !isUpdateEvent(ev.Text) {
		return sampleInput{}, false
	}
	text := strings.TrimLeft(ev.Text, "@")
	name, _, _ := strings.Cut(text, "@@")
	name = storage.NormalizeName(name)
	if name == "" {
		return sampleInput{}, false
	}
	return sampleInput{Nation: name, At: ev.Time()}, true
}

func isUpdateEvent(text string) bool {
	for _, m := range updateMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
