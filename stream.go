package cloudgpt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// ToolCallFragment is a tool call reassembled from streamed deltas.
type ToolCallFragment struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Reconstructed is the assistant message rebuilt from a stream.
type Reconstructed struct {
	Content   string
	ToolCalls []ToolCallFragment
}

// Empty reports whether nothing was reconstructed.
func (r Reconstructed) Empty() bool {
	return r.Content == "" && len(r.ToolCalls) == 0
}

// Summary renders the content followed by a JSON tool-call summary, if any.
func (r Reconstructed) Summary() string {
	if len(r.ToolCalls) == 0 {
		return r.Content
	}
	calls, _ := json.Marshal(r.ToolCalls)
	if r.Content == "" {
		return "[tool_calls] " + string(calls)
	}
	return r.Content + "\n[tool_calls] " + string(calls)
}

// StreamTransform forwards an SSE body byte for byte while reconstructing the
// assistant message from its data frames.
type StreamTransform struct {
	src        io.ReadCloser
	onComplete func(Reconstructed)

	pending []byte
	content strings.Builder
	tools   map[int]*ToolCallFragment

	mu       sync.Mutex
	once     sync.Once
	finished bool
	result   Reconstructed
}

// NewStreamTransform wraps src. onComplete runs once, when the source reaches
// EOF, and only if something was reconstructed. A stream closed before EOF
// (client gone, upstream cut) never reports a partial reply.
func NewStreamTransform(src io.ReadCloser, onComplete func(Reconstructed)) *StreamTransform {
	return &StreamTransform{
		src:        src,
		onComplete: onComplete,
		tools:      make(map[int]*ToolCallFragment),
	}
}

// Read passes bytes through unmodified.
func (t *StreamTransform) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		t.mu.Lock()
		if !t.finished {
			t.consume(p[:n])
		}
		t.mu.Unlock()
	}
	if errors.Is(err, io.EOF) {
		t.finish(true)
	}
	return n, err
}

// Close closes the source and freezes the reconstruction.
func (t *StreamTransform) Close() error {
	err := t.src.Close()
	t.finish(false)
	return err
}

// Result returns what has been reconstructed so far.
func (t *StreamTransform) Result() Reconstructed {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return t.result
	}
	return t.snapshot()
}

func (t *StreamTransform) finish(complete bool) {
	t.once.Do(func() {
		t.mu.Lock()
		if len(t.pending) > 0 {
			t.parseLine(t.pending)
			t.pending = nil
		}
		t.result = t.snapshot()
		t.finished = true
		t.mu.Unlock()

		if complete && t.onComplete != nil && !t.result.Empty() {
			t.onComplete(t.result)
		}
	})
}

// consume splits input into lines; a frame may arrive in any number of reads.
// Caller must hold t.mu.
func (t *StreamTransform) consume(chunk []byte) {
	t.pending = append(t.pending, chunk...)
	for {
		i := bytes.IndexByte(t.pending, '\n')
		if i < 0 {
			break
		}
		t.parseLine(t.pending[:i])
		t.pending = t.pending[i+1:]
	}
	if len(t.pending) == 0 {
		t.pending = nil
	} else {
		t.pending = append([]byte(nil), t.pending...)
	}
}

func (t *StreamTransform) parseLine(line []byte) {
	line = bytes.TrimSpace(line)
	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) || !gjson.ValidBytes(payload) {
		return
	}

	delta := gjson.GetBytes(payload, "choices.0.delta")
	if c := delta.Get("content"); c.Type == gjson.String {
		t.content.WriteString(c.String())
	}
	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		idx := int(tc.Get("index").Int())
		frag, ok := t.tools[idx]
		if !ok {
			frag = &ToolCallFragment{Index: idx}
			t.tools[idx] = frag
		}
		if id := tc.Get("id").String(); id != "" {
			frag.ID = id
		}
		frag.Name += tc.Get("function.name").String()
		frag.Arguments += tc.Get("function.arguments").String()
		return true
	})
}

func (t *StreamTransform) snapshot() Reconstructed {
	r := Reconstructed{Content: t.content.String()}
	if len(t.tools) > 0 {
		r.ToolCalls = make([]ToolCallFragment, 0, len(t.tools))
		for _, f := range t.tools {
			r.ToolCalls = append(r.ToolCalls, *f)
		}
		sort.Slice(r.ToolCalls, func(i, j int) bool { return r.ToolCalls[i].Index < r.ToolCalls[j].Index })
	}
	return r
}
