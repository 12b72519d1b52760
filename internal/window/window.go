// Package window holds the per-window classification state machine.
//
// Every entry is Pending, Moving or Staying. Mutations search the entry list
// with a reverse linear scan, so the most recently added or classified entry
// is always the one affected first. Each mutation records an Op in History;
// Undo pops the latest Op and reverses it. Assign ops carry the absolute
// index they touched so that undoing them never depends on a second scan.
package window

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNoPendingEntry = errors.New("no pending entry")
	ErrNoEntryOfKind  = errors.New("no entry of that kind")
	ErrInvalidKind    = errors.New("kind must be moving or staying")
	ErrInvalidWindow  = errors.New("invalid window")
)

// Kind is the classification of one counted person.
type Kind uint8

const (
	Pending Kind = iota
	Moving
	Staying
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Moving:
		return "moving"
	case Staying:
		return "staying"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind accepts "pending", "moving" or "staying".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "pending":
		return Pending, nil
	case "moving":
		return Moving, nil
	case "staying":
		return Staying, nil
	}
	return 0, fmt.Errorf("unknown kind %q", s)
}

func (k Kind) MarshalJSON() ([]byte, error) {
	if k > Staying {
		return nil, fmt.Errorf("cannot marshal %s", k)
	}
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Counts summarises a window's entries.
type Counts struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Moving  int `json:"moving"`
	Staying int `json:"staying"`
}

// Window is one [Start, End) annotation slot, in seconds relative to the
// session origin.
type Window struct {
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	Entries []Kind `json:"entries"`
	Notes   string `json:"notes"`
	History []Op   `json:"history"`
}

// New returns an empty window over [start, end).
func New(start, end int64) *Window {
	return &Window{Start: start, End: end, Entries: []Kind{}, History: []Op{}}
}

// AddPending appends a Pending entry.
func (w *Window) AddPending() Counts {
	w.Entries = append(w.Entries, Pending)
	w.History = append(w.History, AddOp{})
	return w.Counts()
}

// RemovePending deletes the most recent Pending entry.
func (w *Window) RemovePending() (Counts, error) {
	i := w.lastIndexOf(Pending)
	if i < 0 {
		return w.Counts(), ErrNoPendingEntry
	}
	w.Entries = append(w.Entries[:i], w.Entries[i+1:]...)
	w.History = append(w.History, RemoveOp{})
	return w.Counts(), nil
}

// Classify rewrites the most recent Pending entry to target.
func (w *Window) Classify(target Kind) (Counts, error) {
	if target != Moving && target != Staying {
		return w.Counts(), ErrInvalidKind
	}
	i := w.lastIndexOf(Pending)
	if i < 0 {
		return w.Counts(), ErrNoPendingEntry
	}
	w.Entries[i] = target
	w.History = append(w.History, AssignOp{Index: i, From: Pending, To: target})
	return w.Counts(), nil
}

// Declassify rewrites the most recent entry of kind source back to Pending.
func (w *Window) Declassify(source Kind) (Counts, error) {
	if source != Moving && source != Staying {
		return w.Counts(), ErrInvalidKind
	}
	i := w.lastIndexOf(source)
	if i < 0 {
		return w.Counts(), fmt.Errorf("%w: %s", ErrNoEntryOfKind, source)
	}
	w.Entries[i] = Pending
	w.History = append(w.History, AssignOp{Index: i, From: source, To: Pending})
	return w.Counts(), nil
}

// Undo reverses the latest history entry. It is a no-op on empty history.
func (w *Window) Undo() Counts {
	n := len(w.History)
	if n == 0 {
		return w.Counts()
	}
	op := w.History[n-1]
	w.History = w.History[:n-1]

	switch op := op.(type) {
	case AddOp:
		if i := w.lastIndexOf(Pending); i >= 0 {
			w.Entries = append(w.Entries[:i], w.Entries[i+1:]...)
		}
	case RemoveOp:
		w.Entries = append(w.Entries, Pending)
	case AssignOp:
		if op.Index >= 0 && op.Index < len(w.Entries) {
			w.Entries[op.Index] = op.From
		}
	}
	return w.Counts()
}

// Counts tallies the entries.
func (w *Window) Counts() Counts {
	c := Counts{Total: len(w.Entries)}
	for _, k := range w.Entries {
		switch k {
		case Pending:
			c.Pending++
		case Moving:
			c.Moving++
		case Staying:
			c.Staying++
		}
	}
	return c
}

func (w *Window) HasPending() bool { return w.lastIndexOf(Pending) >= 0 }

// Dirty reports whether the window carries any reviewer input.
func (w *Window) Dirty() bool {
	return len(w.Entries) > 0 || w.Notes != "" || len(w.History) > 0
}

// Validate checks a window loaded from an untrusted snapshot.
func (w *Window) Validate() error {
	if w.End <= w.Start {
		return fmt.Errorf("%w: end %d not after start %d", ErrInvalidWindow, w.End, w.Start)
	}
	for i, k := range w.Entries {
		if k > Staying {
			return fmt.Errorf("%w: entry %d has %s", ErrInvalidWindow, i, k)
		}
	}
	for i, op := range w.History {
		a, ok := op.(AssignOp)
		if !ok {
			continue
		}
		// A later RemovePending can shrink Entries below an earlier assign
		// index; Undo skips such ops, so only negative indexes are corrupt.
		if a.Index < 0 || a.From > Staying || a.To > Staying {
			return fmt.Errorf("%w: history %d is a malformed assign", ErrInvalidWindow, i)
		}
	}
	return nil
}

func (w *Window) lastIndexOf(k Kind) int {
	for i := len(w.Entries) - 1; i >= 0; i-- {
		if w.Entries[i] == k {
			return i
		}
	}
	return -1
}

// UnmarshalJSON tolerates missing entries/history arrays.
func (w *Window) UnmarshalJSON(b []byte) error {
	var raw struct {
		Start   int64             `json:"start"`
		End     int64             `json:"end"`
		Entries []Kind            `json:"entries"`
		Notes   string            `json:"notes"`
		History []json.RawMessage `json:"history"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	hist := make([]Op, 0, len(raw.History))
	for i, h := range raw.History {
		op, err := decodeOp(h)
		if err != nil {
			return fmt.Errorf("history %d: %w", i, err)
		}
		hist = append(hist, op)
	}
	if raw.Entries == nil {
		raw.Entries = []Kind{}
	}
	*w = Window{Start: raw.Start, End: raw.End, Entries: raw.Entries, Notes: raw.Notes, History: hist}
	return nil
}

// Clone returns a deep copy.
func (w *Window) Clone() *Window {
	return &Window{
		Start:   w.Start,
		End:     w.End,
		Entries: append([]Kind{}, w.Entries...),
		Notes:   w.Notes,
		History: append([]Op{}, w.History...),
	}
}
