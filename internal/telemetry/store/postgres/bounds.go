package postgres

import (
	"time"

	"beacon/internal/telemetry"
)

var (
	minTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// queryBounds replaces open ends of the range with fixed sentinels so the SQL
// stays a single prepared shape.
func queryBounds(q telemetry.Query) (time.Time, time.Time) {
	from, to := q.From, q.To
	if from.IsZero() {
		from = minTime
	}
	if to.IsZero() {
		to = maxTime
	}
	return from, to
}
