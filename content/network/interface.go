package network

import (
	"context"
	"io"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Uploader ...
type Uploader interface {
	Upload(context.Context, UploadParams, io.Reader, log.Logger) (FileMetadata, error)
}

// Downloader ...
type Downloader interface {
	Download(context.Context, DownloadParams, log.Logger) (FileMetadata, error)
}

// MetadataProvider ...
type MetadataProvider interface {
	GetMetadata(context.Context, MetadataParams, log.Logger) (FileMetadata, error)
}

// DefaultUploader ...
type DefaultUploader struct{}

// Upload ...
func (u DefaultUploader) Upload(ctx context.Context, params UploadParams, source io.Reader, logger log.Logger) (FileMetadata, error) {
	return Upload(ctx, params, source, logger)
}

// DefaultDownloader ...
type DefaultDownloader struct{}

// Download ...
func (d DefaultDownloader) Download(ctx context.Context, params DownloadParams, logger log.Logger) (FileMetadata, error) {
	return Download(ctx, params, logger)
}

// DefaultMetadataProvider ...
type DefaultMetadataProvider struct{}

// GetMetadata ...
func (p DefaultMetadataProvider) GetMetadata(ctx context.Context, params MetadataParams, logger log.Logger) (FileMetadata, error) {
	return GetMetadata(ctx, params, logger)
}
