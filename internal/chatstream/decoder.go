// Package chatstream decodes the incremental answer stream of the AI chat
// endpoint. The body is a sequence of newline separated records, each framed
// as "data: <json>", carrying a content fragment, an error, or the completion
// marker with the conversation's session id.
package chatstream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

const (
	framePrefix  = "data:"
	doneSentinel = "[DONE]"
	// Used when an error record carries no text at all.
	defaultErrorMessage = "stream reported an error"
)

// Request is the body of a streaming chat call.
type Request struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Handler receives the outcome of one stream. Exactly one of OnError and
// OnComplete is called, after every OnFragment. Nil callbacks are skipped.
type Handler struct {
	OnFragment func(text string)
	OnError    func(err error)
	OnComplete func(sessionID string)
}

// StatusError is reported when the server refuses the stream up front.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("chat stream: status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat stream: status %d: %s", e.StatusCode, e.Body)
}

// RecordError is reported when the server sends an error record mid-stream.
type RecordError struct {
	Message string
}

func (e *RecordError) Error() string {
	return e.Message
}

type record struct {
	Content   string          `json:"content"`
	Message   string          `json:"message"`
	Done      bool            `json:"done"`
	Error     json.RawMessage `json:"error"`
	SessionID string          `json:"sessionId"`
}

// failure reports whether the record signals an error and the message to
// surface. The flag is normally a boolean; a non-empty string is accepted as
// both flag and message.
func (r *record) failure() (string, bool) {
	raw := bytes.TrimSpace(r.Error)
	if len(raw) == 0 {
		return "", false
	}
	var flag bool
	var text string
	switch {
	case json.Unmarshal(raw, &flag) == nil:
		if !flag {
			return "", false
		}
	case json.Unmarshal(raw, &text) == nil:
		if text == "" {
			return "", false
		}
	default:
		return "", false
	}
	for _, msg := range []string{r.Content, r.Message, text} {
		if msg != "" {
			return msg, true
		}
	}
	return defaultErrorMessage, true
}

// Decoder is one decode session. Feed it raw chunks in arrival order, then
// call Finish at end of stream or Fail on a transport error. It is not safe
// for concurrent use.
type Decoder struct {
	h      Handler
	buf    []byte
	done   bool
	logger zerolog.Logger
}

// NewDecoder starts a session reporting to h.
func NewDecoder(h Handler) *Decoder {
	return &Decoder{h: h, logger: zerolog.Nop()}
}

// WithLogger sets the logger used for discarded records.
func (d *Decoder) WithLogger(logger zerolog.Logger) *Decoder {
	d.logger = logger.With().Str("component", "chatstream").Logger()
	return d
}

// Done reports whether a terminal callback has been made.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed appends chunk to the reassembly buffer and processes every complete
// record in it. It returns false once the session has terminated, after which
// further input is ignored.
func (d *Decoder) Feed(chunk []byte) bool {
	if d.done {
		return false
	}
	d.buf = append(d.buf, chunk...)

	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := d.buf[start : start+i]
		start += i + 1
		d.line(line)
		if d.done {
			d.buf = nil
			return false
		}
	}
	if start > 0 {
		d.buf = append([]byte(nil), d.buf[start:]...)
	}
	return true
}

// Finish ends the session at a clean end of stream. A trailing partial record
// is dropped; if no terminal record was seen the stream counts as complete
// with no session id.
func (d *Decoder) Finish() {
	if d.done {
		return
	}
	if len(bytes.TrimSpace(d.buf)) > 0 {
		d.logger.Debug().Int("bytes", len(d.buf)).Msg("dropping unterminated trailing record")
	}
	d.complete("")
}

// Fail ends the session with a transport error.
func (d *Decoder) Fail(err error) {
	if d.done {
		return
	}
	d.fail(err)
}

func (d *Decoder) line(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte(framePrefix)) {
		if len(line) > 0 {
			d.logger.Debug().Bytes("line", line).Msg("ignoring unframed line")
		}
		return
	}
	payload := line[len(framePrefix):]
	payload = bytes.TrimPrefix(payload, []byte{' '})

	if string(bytes.TrimSpace(payload)) == doneSentinel {
		d.complete("")
		return
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		d.logger.Debug().Err(err).Bytes("payload", payload).Msg("discarding malformed record")
		return
	}

	if msg, ok := rec.failure(); ok {
		d.fail(&RecordError{Message: msg})
		return
	}
	if rec.Done {
		d.complete(rec.SessionID)
		return
	}
	if rec.Content != "" && d.h.OnFragment != nil {
		d.h.OnFragment(rec.Content)
	}
}

func (d *Decoder) complete(sessionID string) {
	d.done = true
	if d.h.OnComplete != nil {
		d.h.OnComplete(sessionID)
	}
}

func (d *Decoder) fail(err error) {
	d.done = true
	if d.h.OnError != nil {
		d.h.OnError(err)
	}
}
