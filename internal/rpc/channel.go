package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/firi/hlasm-langserver/internal/logger"
)

// MaxContentLength is the spec.md §3 cap: a Content-Length header
// advertising more than this is refused outright.
const MaxContentLength = 1 << 30

// errNoMessage is returned by Channel.Read when a recoverable framing or
// JSON error was encountered; the caller should simply read again, per
// spec.md §4.1 ("Errors are reported and the stream is re-synchronized by
// returning 'no message'").
var errNoMessage = fmt.Errorf("rpc: no message (recoverable, keep reading)")

// ErrNoMessage reports whether err is the sentinel produced by a
// recoverable framing error.
func ErrNoMessage(err error) bool { return err == errNoMessage }

// Channel is a bidirectional header-framed JSON message stream, grounded
// on the teacher's Transport.readMessage/writeMessage pair in
// internal/lsp/jsonrpc.go, generalized into the standalone read/write
// primitive spec.md's C1 names.
type Channel struct {
	r   *bufio.Reader
	w   io.Writer
	log logger.Logger

	writeMu sync.Mutex // leaf lock (spec.md §5): never held while another lock is held
}

// NewChannel builds a Channel reading header-framed JSON from r and
// writing header-framed JSON to w. Either side may be the same
// underlying stream (a duplex pipe) or different ones (stdin/stdout).
func NewChannel(r io.Reader, w io.Writer, log logger.Logger) *Channel {
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Channel{r: bufio.NewReader(r), w: w, log: log}
}

// Read blocks until a full message is parsed, EOF is reached, or an
// unrecoverable IO error occurs. A recoverable framing error yields
// (nil, ErrNoMessage-satisfying err); the caller should loop and call
// Read again rather than treat it as a stream failure.
func (c *Channel) Read() (json.RawMessage, error) {
	length, err := c.readHeaders()
	if err != nil {
		return nil, err // EOF / unrecoverable IO error, propagated as-is
	}
	if length < 0 {
		// readHeaders already logged the specifics; re-sync by continuing.
		return nil, errNoMessage
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.r, body); err != nil {
			return nil, err // truncated body means the stream itself is gone
		}
	}

	var probe json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		c.log.Error("rpc: malformed JSON body: %v", err)
		return nil, errNoMessage
	}
	return body, nil
}

// readHeaders consumes the header block up to the blank line. It returns
// the parsed Content-Length, or (-1, nil) for a recoverable header error
// (missing/invalid/oversize Content-Length — logged, stream re-synced at
// the next blank line), or a non-nil error for EOF/unrecoverable IO.
func (c *Channel) readHeaders() (int, error) {
	length := -1
	haveLength := false
	sawBlank := false

	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return 0, io.EOF
			}
			return 0, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			sawBlank = true
			break
		}
		if strings.HasPrefix(line, "#") {
			continue // tolerated comment line, spec.md §4.1
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			c.log.Error("rpc: malformed header line %q", line)
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		if !strings.EqualFold(name, "Content-Length") {
			continue // unknown headers ignored, spec.md §4.1
		}
		if haveLength {
			c.log.Info("rpc: duplicate Content-Length header, keeping first")
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			c.log.Error("rpc: invalid Content-Length %q: %v", value, err)
			continue
		}
		haveLength = true
		length = n
	}

	if !sawBlank {
		return 0, io.EOF
	}
	if !haveLength {
		c.log.Error("rpc: missing Content-Length header")
		return -1, nil
	}
	if length <= 0 {
		c.log.Error("rpc: zero-length Content-Length header")
		return -1, nil
	}
	if length > MaxContentLength {
		c.log.Error("rpc: Content-Length %d exceeds maximum %d, refusing", length, MaxContentLength)
		return -1, nil
	}
	return length, nil
}

// Write serializes msg and emits "Content-Length: N\r\n\r\n" followed by
// the bytes, atomically under the output mutex so writes from different
// goroutines never interleave (spec.md §3's channel invariant, §5's leaf
// lock rule).
func (c *Channel) Write(msg interface{}) error {
	content, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("rpc: marshal message: %w", err)
	}
	return c.WriteRaw(content)
}

// WriteRaw frames and emits an already-encoded JSON value without
// re-marshalling it (the teacher's "values passed by move are forwarded
// without copy" contract, realized here as "don't re-marshal what's
// already bytes"); the bytes are copied once into the framed buffer.
func (c *Channel) WriteRaw(content json.RawMessage) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(content))
	buf.Write(content)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.w.Write(buf.Bytes())
	return err
}
