package sandbox

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdEncoder/zstdDecoder are reused across calls, matching the
// reuse-over-init-cost pattern: zstd.Encoder/Decoder are concurrency-safe.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("sandbox: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("sandbox: zstd decoder initialization failed: " + err.Error())
	}
}

const truncationMarker = "\n[crater: log truncated]\n"

// logCapture is a bounded, line-counting io.Writer for combined
// stdout+stderr, per spec.md §4.4: "combined stdout+stderr streamed
// through a size limiter (default 5 MiB / 10 000 lines); overflow is
// truncated with a single-line marker."
type logCapture struct {
	mu          sync.Mutex
	buf         bytes.Buffer
	maxBytes    int64
	maxLines    int
	lines       int
	truncated   bool
	seen        int // total bytes handed to Write, including ones dropped after truncation
	lastWriteAt int // value of seen at the last sawOutput call, used to detect output for the no-output timer
}

func newLogCapture(maxBytes int64, maxLines int) *logCapture {
	return &logCapture{maxBytes: maxBytes, maxLines: maxLines}
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(p)
	c.seen += n
	if c.truncated {
		return n, nil // silently drop further output once truncated
	}
	room := c.maxBytes - int64(c.buf.Len())
	if room <= 0 || c.lines >= c.maxLines {
		c.truncate()
		return n, nil
	}
	chunk := p
	if int64(len(chunk)) > room {
		chunk = chunk[:room]
	}
	// cut the chunk right after the newline that reaches the line cap.
	for i, lines := 0, c.lines; i < len(chunk); i++ {
		if chunk[i] == '\n' {
			if lines++; lines == c.maxLines {
				chunk = chunk[:i+1]
				break
			}
		}
	}
	c.buf.Write(chunk)
	c.lines += bytes.Count(chunk, []byte{'\n'})
	if int64(len(chunk)) < int64(len(p)) || c.lines > c.maxLines {
		c.truncate()
	}
	return n, nil
}

func (c *logCapture) truncate() {
	if c.truncated {
		return
	}
	c.truncated = true
	c.buf.WriteString(truncationMarker)
}

// sawOutput reports whether any bytes have arrived since the last call,
// for the no-output timeout in executor.go.
func (c *logCapture) sawOutput() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	saw := c.seen != c.lastWriteAt
	c.lastWriteAt = c.seen
	return saw
}

// compressed returns the captured log, zstd-compressed, and whether it was
// truncated. Matches the combined stdout+stderr contract of spec.md §4.4.
func (c *logCapture) compressed() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return zstdEncoder.EncodeAll(c.buf.Bytes(), nil), c.truncated
}

// DecompressLog reverses compressed(), used by the report collaborator.
func DecompressLog(compressed []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
