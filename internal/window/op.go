package window

import (
	"encoding/json"
	"fmt"
)

// Op is one reversible history entry. The set of implementations is closed:
// AddOp, RemoveOp and AssignOp.
type Op interface {
	opTag() string
}

type AddOp struct{}

type RemoveOp struct{}

// AssignOp records that Entries[Index] changed from From to To.
type AssignOp struct {
	Index int
	From  Kind
	To    Kind
}

func (AddOp) opTag() string    { return "add" }
func (RemoveOp) opTag() string { return "remove" }
func (AssignOp) opTag() string { return "assign" }

func (AddOp) MarshalJSON() ([]byte, error) {
	return []byte(`{"op":"add"}`), nil
}

func (RemoveOp) MarshalJSON() ([]byte, error) {
	return []byte(`{"op":"remove"}`), nil
}

func (a AssignOp) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Op    string `json:"op"`
		Index int    `json:"index"`
		From  Kind   `json:"from"`
		To    Kind   `json:"to"`
	}{"assign", a.Index, a.From, a.To})
}

func decodeOp(b []byte) (Op, error) {
	var raw struct {
		Op    string `json:"op"`
		Index *int   `json:"index"`
		From  *Kind  `json:"from"`
		To    *Kind  `json:"to"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	switch raw.Op {
	case "add":
		return AddOp{}, nil
	case "remove":
		return RemoveOp{}, nil
	case "assign":
		if raw.Index == nil || raw.From == nil || raw.To == nil {
			return nil, fmt.Errorf("assign op missing index/from/to")
		}
		return AssignOp{Index: *raw.Index, From: *raw.From, To: *raw.To}, nil
	}
	return nil, fmt.Errorf("unknown op %q", raw.Op)
}
