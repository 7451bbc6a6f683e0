package telemetry

import (
	"strconv"
	"time"
)

// FormatLabel renders the x-axis label for t as H:M:S in loc, without zero
// padding, so 14:05:09 becomes "14:5:9". A nil loc means time.Local.
func FormatLabel(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	h, m, s := t.In(loc).Clock()
	b := make([]byte, 0, 8)
	b = strconv.AppendInt(b, int64(h), 10)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(m), 10)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(s), 10)
	return string(b)
}
