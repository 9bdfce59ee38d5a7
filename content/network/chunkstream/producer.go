// Package chunkstream relays a source byte stream into HTTP request bodies
// in bounded increments. One Fill call produces exactly one request body,
// using a fixed-size buffer so memory use stays constant regardless of the
// total upload size.
package chunkstream

import (
	"fmt"
	"io"
)

// Producer copies bytes from a source stream into one sink at a time.
// It owns the source for the duration of an upload and consumes it strictly
// sequentially. Not safe for concurrent use.
type Producer struct {
	source  io.Reader
	buf     []byte
	ceiling int64

	// One byte read past the chunk boundary, served first on the next fill.
	// Lets a source that ends exactly on the boundary report end-of-stream
	// without an extra empty request.
	peek    [1]byte
	pending []byte
	eof     bool
}

// NewProducer creates a Producer over source with the given streaming config.
func NewProducer(source io.Reader, config Config) *Producer {
	return &Producer{
		source:  source,
		buf:     make([]byte, config.BufferSizeBytes),
		ceiling: config.ChunkSizeBytes,
	}
}

// Fill copies bytes from the source into sink until the source is exhausted
// or the chunk ceiling is reached. It returns the number of bytes written to
// sink and whether the source still has content for a further call.
func (p *Producer) Fill(sink io.Writer) (int64, bool, error) {
	var written int64

	if len(p.pending) > 0 {
		n, err := sink.Write(p.pending)
		written += int64(n)
		if err != nil {
			return written, p.HasMore(), fmt.Errorf("write chunk: %w", err)
		}
		p.pending = nil
	}

	for written < p.ceiling && !p.eof {
		limit := int64(len(p.buf))
		if remaining := p.ceiling - written; remaining < limit {
			limit = remaining
		}

		n, err := p.source.Read(p.buf[:limit])
		if n > 0 {
			wn, werr := sink.Write(p.buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, p.HasMore(), fmt.Errorf("write chunk: %w", werr)
			}
		}
		if err == io.EOF {
			p.eof = true
			break
		}
		if err != nil {
			return written, p.HasMore(), fmt.Errorf("read source: %w", err)
		}
	}

	// Probe one byte ahead when the chunk filled up to the ceiling, so an
	// exactly-ceiling-sized source is not followed by an empty request.
	for written >= p.ceiling && !p.eof && len(p.pending) == 0 {
		n, err := p.source.Read(p.peek[:])
		if n > 0 {
			p.pending = p.peek[:n]
		}
		if err == io.EOF {
			p.eof = true
			break
		}
		if err != nil {
			return written, p.HasMore(), fmt.Errorf("read source: %w", err)
		}
		if n > 0 {
			break
		}
	}

	return written, p.HasMore(), nil
}

// HasMore reports whether the source still has unread content.
func (p *Producer) HasMore() bool {
	return len(p.pending) > 0 || !p.eof
}
