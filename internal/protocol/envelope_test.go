package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger.WithField("component", "test")
}

func intp(v int) *int { return &v }

func TestWrapUnwrapRoundTrip(t *testing.T) {
	codec := NewCodec("peer-a", testLogger())

	states := []EditorState{
		{
			Action:    ActionNavigate,
			FilePath:  "/src/main.go",
			Line:      10,
			Column:    2,
			Source:    "nvim",
			IsActive:  true,
			Timestamp: time.Now().UnixMilli(),
		},
		{
			Action:      ActionWorkspaceSync,
			FilePath:    "/src/main.go",
			IsActive:    true,
			Timestamp:   time.Now().UnixMilli(),
			OpenedFiles: []string{"/src/main.go", "/src/util.go"},
		},
		EditorState{
			Action:    ActionNavigate,
			FilePath:  "/src/sel.go",
			Line:      4,
			Column:    0,
			IsActive:  true,
			Timestamp: time.Now().UnixMilli(),
		}.WithSelection(Range{StartLine: 4, StartColumn: 0, EndLine: 5, EndColumn: 12}),
	}

	for _, state := range states {
		env := codec.Wrap(state)
		data, err := codec.Encode(env)
		require.NoError(t, err)

		got := codec.Unwrap(data)
		require.NotNil(t, got)
		assert.Equal(t, state, got.Payload)
		assert.Equal(t, "peer-a", got.SenderID)
	}
}

func TestWrapStampsUniqueIDs(t *testing.T) {
	codec := NewCodec("peer-a", testLogger())

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env := codec.Wrap(EditorState{Action: ActionNavigate, IsActive: true})
		assert.False(t, seen[env.MessageID], "duplicate id %s", env.MessageID)
		seen[env.MessageID] = true
		assert.True(t, strings.HasPrefix(env.MessageID, "peer-a-"))
	}
}

func TestUnwrapMalformed(t *testing.T) {
	codec := NewCodec("peer-a", testLogger())

	cases := [][]byte{
		nil,
		[]byte(""),
		[]byte("not json"),
		[]byte("{}"),
		[]byte(`{"messageId":"x"}`),
		[]byte(`{"messageId":"x","senderId":"y","payload":{"action":"EXPLODE"}}`),
		[]byte(`{"messageId":1,"senderId":true}`),
	}
	for _, data := range cases {
		assert.Nil(t, codec.Unwrap(data), "input %q should be dropped", data)
	}
}

func TestEncodeRejectsOversized(t *testing.T) {
	codec := NewCodec("peer-a", testLogger())

	files := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		files = append(files, "/workspace/deeply/nested/path/"+strings.Repeat("x", 60))
	}
	env := codec.Wrap(EditorState{
		Action:      ActionWorkspaceSync,
		IsActive:    true,
		OpenedFiles: files,
	})

	_, err := codec.Encode(env)
	require.Error(t, err)
}

func TestSelectionAllOrNothing(t *testing.T) {
	state := EditorState{StartLine: intp(1), StartColumn: intp(2), EndLine: intp(3)}
	_, ok := state.Selection()
	assert.False(t, ok)

	full := EditorState{}.WithSelection(Range{StartLine: 1, StartColumn: 2, EndLine: 3, EndColumn: 4})
	r, ok := full.Selection()
	require.True(t, ok)
	assert.Equal(t, Range{StartLine: 1, StartColumn: 2, EndLine: 3, EndColumn: 4}, r)
}

// TestWireFormatGolden pins the exact wire layout. Peers of different
// versions interoperate only as long as these bytes stay stable.
func TestWireFormatGolden(t *testing.T) {
	env := &Envelope{
		MessageID: "peer-a-1-1700000000000",
		SenderID:  "peer-a",
		Timestamp: 1700000000000,
		Payload: EditorState{
			Action:    ActionNavigate,
			FilePath:  "/src/main.go",
			Line:      10,
			Column:    2,
			Source:    "nvim",
			IsActive:  true,
			Timestamp: 1700000000000,
		}.WithSelection(Range{StartLine: 10, StartColumn: 2, EndLine: 10, EndColumn: 8}),
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "envelope", data)
}
