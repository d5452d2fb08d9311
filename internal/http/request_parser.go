package http

import (
	"net/http"
	"strings"
	"time"

	"bilancio/internal/core"
)

// parseNow reads the optional "now" query parameter. Without it the pass runs
// at the server clock.
func parseNow(r *http.Request, loc *time.Location, clock func() time.Time) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get("now"))
	if v == "" {
		return clock(), nil
	}
	return core.ParseInstant(v, loc)
}
