package identity

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	anonymous = "anonymous"

	// nullObjectMarker is what a JS bridge produces when it stringifies an
	// object instead of reading a field from it.
	nullObjectMarker = "[object Object]"
)

var (
	illegalPathChars = strings.NewReplacer("/", "_", ".", "_", "#", "_", "$", "_", "[", "_", "]", "_")
	providerPrefix   = regexp.MustCompile(`^Success:\s*signed\s+(?:up|in)\s+for\s+`)
)

// Normalize turns an external identity string into a key that is safe to use
// as a store path segment. It never fails and never returns "". When nothing
// usable is left it returns a fresh "anonymous_<time-ordered uuid>".
//
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(rawID string) string {
	id := strings.TrimSpace(rawID)
	id = strings.ReplaceAll(id, nullObjectMarker, anonymous)
	id = illegalPathChars.Replace(id)
	id = providerPrefix.ReplaceAllString(id, "")
	id = strings.ReplaceAll(id, " ", "_")
	id = strings.TrimSpace(id)
	if id == "" {
		return anonymous + "_" + uuid.Must(uuid.NewV7()).String()
	}
	return id
}
