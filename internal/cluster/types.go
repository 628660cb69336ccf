package cluster

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"golang.org/x/exp/slices"
)

// Action identifies an analysis a worker runs against every task.
type Action uint8

const (
	LinkFrequencies Action = iota
	LinkGraph
	KeywordExtraction
	ArticleSummarization
)

var actionNames = [...]string{
	LinkFrequencies:      "LinkFrequencies",
	LinkGraph:            "LinkGraph",
	KeywordExtraction:    "KeywordExtraction",
	ArticleSummarization: "ArticleSummarization",
}

// AllActions lists every action in tag order.
func AllActions() []Action {
	return []Action{LinkFrequencies, LinkGraph, KeywordExtraction, ArticleSummarization}
}

// Valid reports whether a is one of the known tags.
func (a Action) Valid() bool {
	return int(a) < len(actionNames)
}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
	return actionNames[a]
}

// ParseAction resolves a tag name such as "LinkFrequencies".
func ParseAction(s string) (Action, error) {
	for i, name := range actionNames {
		if name == s {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown action %q", ErrMalformed, s)
}

// MarshalText encodes the action as its tag name. It also makes Action
// usable as a JSON object key.
func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: unknown action %d", ErrMalformed, uint8(a))
	}
	return []byte(actionNames[a]), nil
}

// UnmarshalText decodes a tag name.
func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ActionSet is an ordered set of actions without duplicates.
type ActionSet []Action

// NewActionSet sorts and de-duplicates actions.
func NewActionSet(actions ...Action) ActionSet {
	set := make(ActionSet, len(actions))
	copy(set, actions)
	slices.Sort(set)
	return slices.Compact(set)
}

// Value is the result of one action for one task. Only LinkFrequencies
// produces a value; the remaining actions report a nil *Value.
//
// A nil Frequencies map encodes as {} and decodes as an empty map.
// NewDone replaces nil maps up front so a report round-trips unchanged.
type Value struct {
	Frequencies map[string]uint64
}

// MarshalJSON encodes the value as a plain target -> count object.
func (v *Value) MarshalJSON() ([]byte, error) {
	if v.Frequencies == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v.Frequencies)
}

// UnmarshalJSON decodes a target -> count object.
func (v *Value) UnmarshalJSON(b []byte) error {
	var freq map[string]uint64
	if err := json.Unmarshal(b, &freq); err != nil {
		return err
	}
	if freq == nil {
		freq = make(map[string]uint64)
	}
	v.Frequencies = freq
	return nil
}

// ActionResult maps each requested action to its value.
type ActionResult map[Action]*Value

// Frequencies returns the link-frequency map, or nil when the action was
// not requested.
func (r ActionResult) Frequencies() map[string]uint64 {
	if v := r[LinkFrequencies]; v != nil {
		return v.Frequencies
	}
	return nil
}

// MessageType tags the variant carried by a Message.
type MessageType string

const (
	TypeReady MessageType = "ready"
	TypeTask  MessageType = "task"
	TypeDone  MessageType = "done"
)

// Ready is a worker's declaration of how many tasks it will take before
// its next report.
type Ready struct {
	TaskCount uint8 `json:"task_count"`
}

// Task is one unit of work on the wire.
type Task struct {
	RawMarkup        string    `json:"raw_markup"`
	RequestedActions ActionSet `json:"requested_actions"`
	ID               uint32    `json:"id"`
}

// Done carries the results of every task received since the last Ready.
type Done struct {
	Results map[uint32]ActionResult `json:"results"`
}

// Message is the only value ever framed onto the wire. Exactly one of the
// payload pointers is set and it matches Type.
type Message struct {
	Ready *Ready      `json:"ready,omitempty"`
	Task  *Task       `json:"task,omitempty"`
	Done  *Done       `json:"done,omitempty"`
	Type  MessageType `json:"type"`
}

// NewReady wraps a Ready.
func NewReady(taskCount uint8) Message {
	return Message{Type: TypeReady, Ready: &Ready{TaskCount: taskCount}}
}

// NewTask wraps a Task.
func NewTask(id uint32, rawMarkup string, actions ActionSet) Message {
	return Message{Type: TypeTask, Task: &Task{ID: id, RawMarkup: rawMarkup, RequestedActions: actions}}
}

// NewDone wraps a Done. A nil results map, and a nil Frequencies map in
// any value, is replaced by an empty one.
func NewDone(results map[uint32]ActionResult) Message {
	if results == nil {
		results = make(map[uint32]ActionResult)
	}
	for _, result := range results {
		for _, v := range result {
			if v != nil && v.Frequencies == nil {
				v.Frequencies = make(map[string]uint64)
			}
		}
	}
	return Message{Type: TypeDone, Done: &Done{Results: results}}
}

// Validate checks that the tag and payload agree.
func (m Message) Validate() error {
	set := 0
	for _, present := range []bool{m.Ready != nil, m.Task != nil, m.Done != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %d payloads for type %q", ErrMalformed, set, m.Type)
	}

	var ok bool
	switch m.Type {
	case TypeReady:
		ok = m.Ready != nil
	case TypeTask:
		ok = m.Task != nil
	case TypeDone:
		ok = m.Done != nil
	}
	if !ok {
		return fmt.Errorf("%w: payload does not match type %q", ErrMalformed, m.Type)
	}
	if m.Task != nil && !utf8.ValidString(m.Task.RawMarkup) {
		return fmt.Errorf("%w: task %d markup is not valid UTF-8", ErrMalformed, m.Task.ID)
	}
	return nil
}
