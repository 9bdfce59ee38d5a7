// Package compression provides streaming zstd helpers for artifact transfers.
// Compression happens as the source is consumed, so compressed uploads keep
// the constant-memory property of the chunked session protocol.
package compression

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// Extension is appended to the remote name of compressed artifacts.
const Extension = ".zst"

// Compress returns a reader that yields the zstd-compressed bytes of src.
// The returned reader must be closed, closing it stops the compression.
func Compress(src io.Reader) io.ReadCloser {
	pipeReader, pipeWriter := io.Pipe()

	go func() {
		encoder, err := zstd.NewWriter(pipeWriter)
		if err != nil {
			pipeWriter.CloseWithError(err) //nolint:errcheck
			return
		}
		if _, err := io.Copy(encoder, src); err != nil {
			encoder.Close() //nolint:errcheck
			pipeWriter.CloseWithError(err) //nolint:errcheck
			return
		}
		pipeWriter.CloseWithError(encoder.Close()) //nolint:errcheck
	}()

	return pipeReader
}

// Decompress wraps src in a zstd decoder.
func Decompress(src io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(src)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}
