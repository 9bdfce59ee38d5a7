package network

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"

	"github.com/stashbox-io/go-stashutils/content/network/chunkstream"
)

// WriteModeAdd is the only write mode this flow uses: the service stores the
// upload as a new entry and never overwrites existing content.
const WriteModeAdd = "add"

// UploadParams ...
type UploadParams struct {
	APIBaseURL      string
	Token           string
	UserAgent       string
	DestinationPath string
	// Autorename lets the service pick a free name on a path conflict
	// instead of rejecting the commit.
	Autorename bool
	// MuteNotifications suppresses the service-side change notification
	// for the committed file.
	MuteNotifications bool
	// BufferSizeBytes bounds per-read memory use. 0 means the 1 MiB default.
	BufferSizeBytes int
	// ChunkSizeBytes bounds the size of a single request body. 0 means the
	// 120 MiB default, which stays below the service's 150 MiB limit.
	ChunkSizeBytes int64
	// HTTPClient carries the session requests when set. It must not retry,
	// session bodies are one-shot streams. Nil means the default client.
	HTTPClient *http.Client
}

// Upload streams source to the content service as one upload session and
// commits it under params.DestinationPath.
//
// The session is a strict sequence: one start request, zero or more append
// requests, one finish request. Each request's body is filled by the chunk
// producer directly from source, so memory use is constant regardless of the
// total size. Any non-2xx response aborts the whole upload, no phase is
// retried.
func Upload(ctx context.Context, params UploadParams, source io.Reader, logger log.Logger) (FileMetadata, error) {
	if err := validateUploadParams(params, source); err != nil {
		return FileMetadata{}, err
	}

	config := chunkstream.DefaultConfig()
	if params.BufferSizeBytes > 0 {
		config.BufferSizeBytes = params.BufferSizeBytes
	}
	if params.ChunkSizeBytes > 0 {
		config.ChunkSizeBytes = params.ChunkSizeBytes
	}
	if err := config.Validate(); err != nil {
		return FileMetadata{}, &InvalidArgumentError{Reason: err.Error()}
	}

	streamClient := params.HTTPClient
	if streamClient == nil {
		streamClient = chunkstream.DefaultHTTPClient()
	}

	producer := chunkstream.NewProducer(source, config)
	client := newAPIClient(streamClient, retryhttp.NewClient(logger), params.APIBaseURL, params.Token, params.UserAgent, logger)

	logger.Debugf("Start upload session")
	sessionID, written, more, err := client.startSession(ctx, producer)
	if err != nil {
		return FileMetadata{}, err
	}
	offset := uint64(written)
	logger.Debugf("Session %s started with %d bytes", sessionID, written)

	for more {
		written, more, err = client.appendToSession(ctx, uploadCursor{SessionID: sessionID, Offset: offset}, producer)
		if err != nil {
			return FileMetadata{}, err
		}
		offset += uint64(written)
		logger.Debugf("Appended %d bytes, offset is %d", written, offset)
	}

	logger.Debugf("Finish upload session at offset %d", offset)
	commit := commitInfo{
		Path:       params.DestinationPath,
		Mode:       WriteModeAdd,
		Autorename: params.Autorename,
		Mute:       params.MuteNotifications,
	}
	metadata, err := client.finishSession(ctx, uploadCursor{SessionID: sessionID, Offset: offset}, commit, producer)
	if err != nil {
		return FileMetadata{}, err
	}

	return metadata, nil
}

func validateUploadParams(params UploadParams, source io.Reader) error {
	if strings.TrimSpace(params.DestinationPath) == "" {
		return &InvalidArgumentError{Reason: "destination path is empty"}
	}
	if source == nil {
		return &InvalidArgumentError{Reason: "source stream is nil"}
	}
	if params.APIBaseURL == "" {
		return &InvalidArgumentError{Reason: "API base URL is empty"}
	}
	if params.Token == "" {
		return &InvalidArgumentError{Reason: "access token is empty"}
	}
	return nil
}
