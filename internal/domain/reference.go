package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var epochMillisPattern = regexp.MustCompile(`^\d{1,19}$`)

// ParseReferenceDate parses the two reference date encodings accepted on
// the wire: epoch milliseconds ("1700000000000") or RFC3339
// ("2023-11-14T22:13:20Z"). The result is always UTC.
func ParseReferenceDate(s string) (time.Time, error) {
	if epochMillisPattern.MatchString(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid reference date %q: %w", s, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reference date %q: expected epoch milliseconds or RFC3339", s)
	}
	return t.UTC(), nil
}
