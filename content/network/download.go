package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/melbahja/got"

	"github.com/stashbox-io/go-stashutils/content/network/chunkstream"
)

// DownloadParams ...
type DownloadParams struct {
	APIBaseURL   string
	Token        string
	UserAgent    string
	RemotePath   string
	DownloadPath string
}

// ErrFileNotFound ...
var ErrFileNotFound = errors.New("no file found at the provided remote path")

// Download fetches a file from the content service through a short-lived
// link and writes it to params.DownloadPath. If there is no file at the
// remote path, the error is ErrFileNotFound.
func Download(ctx context.Context, params DownloadParams, logger log.Logger) (FileMetadata, error) {
	if params.APIBaseURL == "" {
		return FileMetadata{}, &InvalidArgumentError{Reason: "API base URL is empty"}
	}
	if params.Token == "" {
		return FileMetadata{}, &InvalidArgumentError{Reason: "access token is empty"}
	}
	if params.RemotePath == "" {
		return FileMetadata{}, &InvalidArgumentError{Reason: "remote path is empty"}
	}
	if params.DownloadPath == "" {
		return FileMetadata{}, &InvalidArgumentError{Reason: "download path is empty"}
	}

	retryableHTTPClient := retryhttp.NewClient(logger)
	client := newAPIClient(chunkstream.DefaultHTTPClient(), retryableHTTPClient, params.APIBaseURL, params.Token, params.UserAgent, logger)

	logger.Debugf("Get download link")
	linkResponse, err := client.getTemporaryLink(ctx, params.RemotePath)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return FileMetadata{}, err
		}
		return FileMetadata{}, fmt.Errorf("failed to get download link: %w", err)
	}

	logger.Debugf("Download file")
	err = downloadFile(ctx, retryableHTTPClient.StandardClient(), linkResponse.Link, params.DownloadPath)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("failed to download file: %w", err)
	}

	return linkResponse.Metadata, nil
}

func downloadFile(ctx context.Context, client *http.Client, url string, dest string) error {
	downloader := got.New()
	downloader.Client = client

	return downloader.Do(got.NewDownload(ctx, url, dest))
}
