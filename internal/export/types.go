package export

import (
	"errors"
	"fmt"
	"strings"
)

// Kind selects the CSV layout.
type Kind string

const (
	KindSummary Kind = "summary"
	KindDetail  Kind = "detail"
)

// ParseKind accepts "summary" or "detail".
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSummary:
		return KindSummary, nil
	case KindDetail:
		return KindDetail, nil
	}
	return "", fmt.Errorf("unknown export kind %q (want summary or detail)", s)
}

var (
	SummaryHeader = []string{"video_id", "window_start", "window_end", "total_unique", "moving_count", "staying_count", "notes"}
	DetailHeader  = []string{"video_id", "window_start", "person_local_id", "visible_sec", "behavior", "remarks"}
)

// ErrPendingEntries is wrapped by PendingError.
var ErrPendingEntries = errors.New("windows still contain pending entries")

// PendingError lists the windows that block an export.
type PendingError struct {
	Windows []int
}

func (e *PendingError) Error() string {
	idx := make([]string, len(e.Windows))
	for i, w := range e.Windows {
		idx[i] = fmt.Sprintf("%d", w+1)
	}
	return fmt.Sprintf("%v: classify or remove them first (windows %s)", ErrPendingEntries, strings.Join(idx, ", "))
}

func (e *PendingError) Unwrap() error { return ErrPendingEntries }

// Response is returned by the export endpoints and CLI when writing to disk.
type Response struct {
	Kind       Kind   `json:"kind"`
	OutputPath string `json:"output_path"`
	Rows       int    `json:"rows"`
}
