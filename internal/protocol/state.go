// Package protocol defines the wire data model shared by all peers: the
// EditorState payload, the message envelope around it, and the receive-side
// deduplicator. Wire compatibility is by convention — extend with optional
// fields only, never repurpose existing ones.
package protocol

import "time"

// Action identifies what an EditorState describes.
type Action string

const (
	ActionOpen          Action = "OPEN"
	ActionClose         Action = "CLOSE"
	ActionNavigate      Action = "NAVIGATE"
	ActionWorkspaceSync Action = "WORKSPACE_SYNC"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionOpen, ActionClose, ActionNavigate, ActionWorkspaceSync:
		return true
	}
	return false
}

// EditorState is one editor event or workspace snapshot. It is created at the
// moment of an editor event, immutable afterwards, consumed once by each
// receiver, and never persisted.
//
// FilePath is sender-native; receivers normalize it before any comparison.
// Line and Column are 0-based. The four selection fields are all present or
// all absent.
type EditorState struct {
	Action    Action `json:"action"`
	FilePath  string `json:"filePath"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	Source    string `json:"source,omitempty"`
	IsActive  bool   `json:"isActive"`
	Timestamp int64  `json:"timestamp"` // milliseconds since epoch

	// OpenedFiles carries the full open-file set; WORKSPACE_SYNC only.
	OpenedFiles []string `json:"openedFiles,omitempty"`

	StartLine   *int `json:"startLine,omitempty"`
	StartColumn *int `json:"startColumn,omitempty"`
	EndLine     *int `json:"endLine,omitempty"`
	EndColumn   *int `json:"endColumn,omitempty"`
}

// Range is a selection span with 0-based inclusive start and end positions.
type Range struct {
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// Selection returns the selection range and whether one is present. A state
// with only some of the four fields set is treated as having no selection.
func (s *EditorState) Selection() (Range, bool) {
	if s.StartLine == nil || s.StartColumn == nil || s.EndLine == nil || s.EndColumn == nil {
		return Range{}, false
	}
	return Range{
		StartLine:   *s.StartLine,
		StartColumn: *s.StartColumn,
		EndLine:     *s.EndLine,
		EndColumn:   *s.EndColumn,
	}, true
}

// WithSelection returns a copy of s carrying the given selection range.
func (s EditorState) WithSelection(r Range) EditorState {
	s.StartLine = &r.StartLine
	s.StartColumn = &r.StartColumn
	s.EndLine = &r.EndLine
	s.EndColumn = &r.EndColumn
	return s
}

// Age returns how long ago the state was stamped, relative to now.
func (s *EditorState) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.Timestamp))
}
