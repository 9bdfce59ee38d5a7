package chunkstream

import (
	"fmt"
	"net/http"
	"time"
)

// DefaultBufferSizeBytes is the size of the relay buffer between the source
// stream and the outgoing request body. It bounds per-read memory use.
const DefaultBufferSizeBytes = 1024 * 1024

// DefaultChunkSizeBytes is the maximum number of bytes sent in a single
// request body. The service rejects bodies above MaxChunkSizeBytes, the
// default leaves headroom below that limit.
const DefaultChunkSizeBytes = int64(120 * 1024 * 1024)

// MaxChunkSizeBytes is the service-side hard limit for one request body.
const MaxChunkSizeBytes = int64(150 * 1024 * 1024)

// Config holds the streaming parameters of one upload.
type Config struct {
	// BufferSizeBytes is the relay buffer size. Default: 1 MiB
	BufferSizeBytes int

	// ChunkSizeBytes is the per-request byte ceiling. Default: 120 MiB
	ChunkSizeBytes int64
}

// DefaultConfig returns the default streaming configuration.
func DefaultConfig() Config {
	return Config{
		BufferSizeBytes: DefaultBufferSizeBytes,
		ChunkSizeBytes:  DefaultChunkSizeBytes,
	}
}

// Validate checks that the configured sizes are usable.
func (c Config) Validate() error {
	if c.BufferSizeBytes <= 0 {
		return fmt.Errorf("buffer size should be positive, got %d", c.BufferSizeBytes)
	}
	if c.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk size should be positive, got %d", c.ChunkSizeBytes)
	}
	if c.ChunkSizeBytes > MaxChunkSizeBytes {
		return fmt.Errorf("chunk size %d exceeds the service limit of %d bytes", c.ChunkSizeBytes, MaxChunkSizeBytes)
	}
	return nil
}

// DefaultHTTPClient creates an HTTP client for session requests.
// Session bodies are one-shot streams, so the client never retries, and
// there is no global timeout: cancellation is handled via request contexts.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
