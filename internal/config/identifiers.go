package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is a half-open range of numeric webcam identifiers, START:END.
type Range struct {
	Start int
	End   int
}

// ParseRange parses "START:END". END is exclusive and must exceed START.
func ParseRange(raw string) (Range, error) {
	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Range{}, fmt.Errorf("range %q must have the form START:END", raw)
	}
	start, err := strconv.Atoi(strings.TrimSpace(startRaw))
	if err != nil || start < 0 {
		return Range{}, fmt.Errorf("range %q: start must be a non-negative integer", raw)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endRaw))
	if err != nil {
		return Range{}, fmt.Errorf("range %q: end must be an integer", raw)
	}
	if end <= start {
		return Range{}, fmt.Errorf("range %q: end must be greater than start", raw)
	}
	return Range{Start: start, End: end}, nil
}

// Len returns the number of identifiers in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Identifiers lists the range as decimal strings in ascending order.
func (r Range) Identifiers() []string {
	ids := make([]string, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		ids = append(ids, strconv.Itoa(i))
	}
	return ids
}

func (r Range) String() string {
	return fmt.Sprintf("%d:%d", r.Start, r.End)
}
