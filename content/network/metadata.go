package network

import (
	"context"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"

	"github.com/stashbox-io/go-stashutils/content/network/chunkstream"
)

// MetadataParams ...
type MetadataParams struct {
	APIBaseURL string
	Token      string
	UserAgent  string
	RemotePath string
}

// GetMetadata looks up the metadata of a committed file. If there is no file
// at the remote path, the error is ErrFileNotFound.
func GetMetadata(ctx context.Context, params MetadataParams, logger log.Logger) (FileMetadata, error) {
	if params.APIBaseURL == "" {
		return FileMetadata{}, &InvalidArgumentError{Reason: "API base URL is empty"}
	}
	if params.Token == "" {
		return FileMetadata{}, &InvalidArgumentError{Reason: "access token is empty"}
	}
	if params.RemotePath == "" {
		return FileMetadata{}, &InvalidArgumentError{Reason: "remote path is empty"}
	}

	client := newAPIClient(chunkstream.DefaultHTTPClient(), retryhttp.NewClient(logger), params.APIBaseURL, params.Token, params.UserAgent, logger)
	return client.getMetadata(ctx, params.RemotePath)
}
