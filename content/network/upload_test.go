package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uploadTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// fakeContentService is an in-memory stand-in for the upload-session API.
// Assertions inside the handler use assert (not require) because the handler
// runs on the server goroutine.
type fakeContentService struct {
	mu sync.Mutex

	startCalls  int
	appendCalls int
	finishCalls int

	received     bytes.Buffer
	appendSizes  []int
	offsets      []uint64
	finishArg    finishSessionArg
	contentLens  []int64
	userAgents   []string
	authHeaders  []string
	startHandler func(w http.ResponseWriter)

	failPhase  Phase
	failStatus int
	failBody   string
}

func (s *fakeContentService) fail(phase Phase, w http.ResponseWriter) bool {
	if s.failPhase != phase {
		return false
	}
	w.WriteHeader(s.failStatus)
	_, _ = w.Write([]byte(s.failBody))
	return true
}

func (s *fakeContentService) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.contentLens = append(s.contentLens, r.ContentLength)
		s.userAgents = append(s.userAgents, r.Header.Get("User-Agent"))
		s.authHeaders = append(s.authHeaders, r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/upload_session/start":
			s.startCalls++
			if s.fail(PhaseStart, w) {
				return
			}
			s.received.Write(body)
			if s.startHandler != nil {
				s.startHandler(w)
				return
			}
			_, _ = w.Write([]byte(`{"session_id": "session-1"}`))
		case "/upload_session/append":
			s.appendCalls++
			var cursor uploadCursor
			assert.NoError(t, json.Unmarshal([]byte(r.Header.Get(apiArgHeader)), &cursor))
			s.offsets = append(s.offsets, cursor.Offset)
			if s.fail(PhaseAppend, w) {
				return
			}
			assert.Equal(t, "session-1", cursor.SessionID)
			assert.Equal(t, uint64(s.received.Len()), cursor.Offset)
			s.received.Write(body)
			s.appendSizes = append(s.appendSizes, len(body))
			w.WriteHeader(http.StatusOK)
		case "/upload_session/finish":
			s.finishCalls++
			var arg finishSessionArg
			assert.NoError(t, json.Unmarshal([]byte(r.Header.Get(apiArgHeader)), &arg))
			s.finishArg = arg
			if s.fail(PhaseFinish, w) {
				return
			}
			assert.Equal(t, "session-1", arg.Cursor.SessionID)
			assert.Equal(t, uint64(s.received.Len()), arg.Cursor.Offset)
			s.received.Write(body)
			metadata := FileMetadata{
				ID:        "id:a4ayc_80_OEAAAAAAAAAXw",
				Name:      path.Base(arg.Commit.Path),
				PathLower: strings.ToLower(arg.Commit.Path),
				Size:      uint64(s.received.Len()),
				Rev:       "0159f",
			}
			assert.NoError(t, json.NewEncoder(w).Encode(metadata))
		default:
			t.Errorf("unexpected request path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func testUploadParams(baseURL string) UploadParams {
	return UploadParams{
		APIBaseURL:      baseURL,
		Token:           "test-token",
		UserAgent:       "stashutils-test",
		DestinationPath: "/artifacts/archive.bin",
		BufferSizeBytes: 3,
		ChunkSizeBytes:  8,
	}
}

func TestUpload_SingleChunk(t *testing.T) {
	service := &fakeContentService{}
	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	data := uploadTestData(100)
	params := testUploadParams(server.URL)
	params.BufferSizeBytes = 32
	params.ChunkSizeBytes = 1024
	params.MuteNotifications = true

	metadata, err := Upload(context.Background(), params, bytes.NewReader(data), log.NewLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, service.startCalls)
	assert.Equal(t, 0, service.appendCalls)
	assert.Equal(t, 1, service.finishCalls)
	assert.Equal(t, data, service.received.Bytes())
	assert.Equal(t, uint64(100), service.finishArg.Cursor.Offset)
	assert.Equal(t, "/artifacts/archive.bin", service.finishArg.Commit.Path)
	assert.Equal(t, WriteModeAdd, service.finishArg.Commit.Mode)
	assert.False(t, service.finishArg.Commit.Autorename)
	assert.True(t, service.finishArg.Commit.Mute)
	assert.Equal(t, "id:a4ayc_80_OEAAAAAAAAAXw", metadata.ID)
	assert.Equal(t, uint64(100), metadata.Size)

	for _, contentLength := range service.contentLens {
		assert.Equal(t, int64(-1), contentLength, "session bodies should use chunked encoding")
	}
	for _, userAgent := range service.userAgents {
		assert.Equal(t, "stashutils-test", userAgent)
	}
	for _, authHeader := range service.authHeaders {
		assert.Equal(t, "Bearer test-token", authHeader)
	}
}

func TestUpload_EmptySource(t *testing.T) {
	service := &fakeContentService{}
	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	_, err := Upload(context.Background(), testUploadParams(server.URL), bytes.NewReader(nil), log.NewLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, service.startCalls)
	assert.Equal(t, 0, service.appendCalls)
	assert.Equal(t, 1, service.finishCalls)
	assert.Equal(t, uint64(0), service.finishArg.Cursor.Offset)
	assert.Equal(t, 0, service.received.Len())
}

func TestUpload_MultipleChunks(t *testing.T) {
	service := &fakeContentService{}
	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	data := uploadTestData(22)
	_, err := Upload(context.Background(), testUploadParams(server.URL), bytes.NewReader(data), log.NewLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, service.startCalls)
	assert.Equal(t, 2, service.appendCalls)
	assert.Equal(t, 1, service.finishCalls)
	assert.Equal(t, []int{8, 6}, service.appendSizes)
	assert.Equal(t, []uint64{8, 16}, service.offsets)
	assert.Equal(t, uint64(22), service.finishArg.Cursor.Offset)
	assert.Equal(t, data, service.received.Bytes())
}

func TestUpload_SourceEqualToChunkSize(t *testing.T) {
	service := &fakeContentService{}
	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	data := uploadTestData(8)
	_, err := Upload(context.Background(), testUploadParams(server.URL), bytes.NewReader(data), log.NewLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, service.startCalls)
	assert.Equal(t, 0, service.appendCalls, "a source that fits the first chunk needs no append")
	assert.Equal(t, 1, service.finishCalls)
	assert.Equal(t, data, service.received.Bytes())
}

func TestUpload_SourceOneByteLargerThanChunkSize(t *testing.T) {
	service := &fakeContentService{}
	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	data := uploadTestData(9)
	_, err := Upload(context.Background(), testUploadParams(server.URL), bytes.NewReader(data), log.NewLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, service.appendCalls)
	assert.Equal(t, []int{1}, service.appendSizes)
	assert.Equal(t, uint64(9), service.finishArg.Cursor.Offset)
	assert.Equal(t, data, service.received.Bytes())
}

func TestUpload_RemoteRejection(t *testing.T) {
	rejectionBody := `{"error_summary": "path/conflict/file/", "error": {".tag": "path"}}`
	tests := []struct {
		name            string
		failPhase       Phase
		wantAppendCalls int
		wantFinishCalls int
	}{
		{
			name:            "rejected at start",
			failPhase:       PhaseStart,
			wantAppendCalls: 0,
			wantFinishCalls: 0,
		},
		{
			name:            "rejected at append",
			failPhase:       PhaseAppend,
			wantAppendCalls: 1,
			wantFinishCalls: 0,
		},
		{
			name:            "rejected at finish",
			failPhase:       PhaseFinish,
			wantAppendCalls: 2,
			wantFinishCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &fakeContentService{
				failPhase:  tt.failPhase,
				failStatus: http.StatusConflict,
				failBody:   rejectionBody,
			}
			server := httptest.NewServer(service.handler(t))
			defer server.Close()

			data := uploadTestData(22)
			_, err := Upload(context.Background(), testUploadParams(server.URL), bytes.NewReader(data), log.NewLogger())
			require.Error(t, err)

			var rejection *RemoteRejectionError
			require.ErrorAs(t, err, &rejection)
			assert.Equal(t, tt.failPhase, rejection.Phase)
			assert.Equal(t, http.StatusConflict, rejection.StatusCode)
			assert.Equal(t, []byte(rejectionBody), rejection.Body, "response body should be surfaced byte for byte")

			assert.Equal(t, 1, service.startCalls)
			assert.Equal(t, tt.wantAppendCalls, service.appendCalls)
			assert.Equal(t, tt.wantFinishCalls, service.finishCalls)
		})
	}
}

func TestUpload_InvalidArguments(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(params *UploadParams)
		source io.Reader
	}{
		{
			name:   "empty destination path",
			mutate: func(params *UploadParams) { params.DestinationPath = "" },
			source: bytes.NewReader(nil),
		},
		{
			name:   "whitespace destination path",
			mutate: func(params *UploadParams) { params.DestinationPath = "   " },
			source: bytes.NewReader(nil),
		},
		{
			name:   "nil source stream",
			mutate: func(params *UploadParams) {},
			source: nil,
		},
		{
			name:   "missing token",
			mutate: func(params *UploadParams) { params.Token = "" },
			source: bytes.NewReader(nil),
		},
		{
			name:   "chunk size above the service limit",
			mutate: func(params *UploadParams) { params.ChunkSizeBytes = 151 * 1024 * 1024 },
			source: bytes.NewReader(nil),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &fakeContentService{}
			server := httptest.NewServer(service.handler(t))
			defer server.Close()

			params := testUploadParams(server.URL)
			tt.mutate(&params)

			_, err := Upload(context.Background(), params, tt.source, log.NewLogger())
			require.Error(t, err)

			var invalidArgument *InvalidArgumentError
			assert.ErrorAs(t, err, &invalidArgument)
			assert.Equal(t, 0, service.startCalls+service.appendCalls+service.finishCalls, "invalid input should not reach the network")
		})
	}
}

func TestUpload_MissingSessionID(t *testing.T) {
	service := &fakeContentService{
		startHandler: func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{}`))
		},
	}
	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	_, err := Upload(context.Background(), testUploadParams(server.URL), bytes.NewReader(uploadTestData(4)), log.NewLogger())
	require.Error(t, err)

	var protocolErr *ProtocolError
	require.ErrorAs(t, err, &protocolErr)
	assert.Equal(t, PhaseStart, protocolErr.Phase)
	assert.Equal(t, 0, service.appendCalls)
	assert.Equal(t, 0, service.finishCalls)
}

func TestUpload_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := Upload(context.Background(), testUploadParams(server.URL), bytes.NewReader(uploadTestData(4)), log.NewLogger())
	require.Error(t, err)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, PhaseStart, transportErr.Phase)
}

func TestUpload_CancelledContext(t *testing.T) {
	service := &fakeContentService{}
	server := httptest.NewServer(service.handler(t))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Upload(ctx, testUploadParams(server.URL), bytes.NewReader(uploadTestData(100)), log.NewLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), fmt.Sprintf("expected context.Canceled in the chain, got: %v", err))
}
