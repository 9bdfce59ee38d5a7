package content

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/stashbox-io/go-stashutils/content/compression"
	"github.com/stashbox-io/go-stashutils/content/network"
)

// DownloadInput is the information that comes from the steps and tools that
// call this shared implementation
type DownloadInput struct {
	// StepId identifies the exact caller step. Used for logging events.
	StepId  string
	Verbose bool
	// RemotePath is the file to fetch from the content service.
	RemotePath string
	// DownloadPath is the local destination. Compressed artifacts (with the
	// zstd extension) are decompressed in place after the transfer.
	DownloadPath string
}

// Downloader ...
type Downloader interface {
	Download(input DownloadInput) error
}

type downloadConfig struct {
	Verbose      bool
	RemotePath   string
	DownloadPath string
	APIBaseURL   stepconf.Secret
	AccessToken  stepconf.Secret
}

type downloader struct {
	envRepo    env.Repository
	logger     log.Logger
	downloader network.Downloader
}

// NewDownloader creates a new artifact downloader instance. `fileDownloader`
// can be nil, unless you want to provide a custom implementation.
func NewDownloader(envRepo env.Repository, logger log.Logger, fileDownloader network.Downloader) *downloader {
	var downloaderImpl network.Downloader = fileDownloader
	if fileDownloader == nil {
		downloaderImpl = network.DefaultDownloader{}
	}
	return &downloader{
		envRepo:    envRepo,
		logger:     logger,
		downloader: downloaderImpl,
	}
}

// Download ...
func (d *downloader) Download(input DownloadInput) error {
	config, err := d.createConfig(input)
	if err != nil {
		return fmt.Errorf("failed to parse inputs: %w", err)
	}

	tracker := newStepTracker(input.StepId, d.envRepo, d.logger)
	defer tracker.wait()

	d.logger.Println()
	d.logger.Infof("Downloading %s", config.RemotePath)
	downloadStartTime := time.Now()

	params := network.DownloadParams{
		APIBaseURL:   string(config.APIBaseURL),
		Token:        string(config.AccessToken),
		UserAgent:    defaultUserAgent,
		RemotePath:   config.RemotePath,
		DownloadPath: config.DownloadPath,
	}
	metadata, err := d.downloader.Download(context.Background(), params, d.logger)
	if err != nil {
		return fmt.Errorf("artifact download failed: %w", err)
	}
	downloadTime := time.Since(downloadStartTime).Round(time.Second)

	d.logger.Donef("Downloaded %s in %s", units.HumanSizeWithPrecision(float64(metadata.Size), 3), downloadTime)

	if strings.HasSuffix(config.RemotePath, compression.Extension) {
		d.logger.Infof("Decompressing artifact")
		if err := d.decompressInPlace(config.DownloadPath); err != nil {
			return fmt.Errorf("failed to decompress artifact: %w", err)
		}
	}

	fileInfo, err := os.Stat(config.DownloadPath)
	if err != nil {
		return err
	}
	tracker.logArtifactDownloaded(downloadTime, fileInfo)

	return nil
}

func (d *downloader) createConfig(input DownloadInput) (downloadConfig, error) {
	if strings.TrimSpace(input.RemotePath) == "" {
		return downloadConfig{}, fmt.Errorf("remote path should not be empty")
	}
	if strings.TrimSpace(input.DownloadPath) == "" {
		return downloadConfig{}, fmt.Errorf("download path should not be empty")
	}

	apiBaseURL := d.envRepo.Get(apiBaseURLEnvKey)
	if apiBaseURL == "" {
		return downloadConfig{}, fmt.Errorf("the secret '%s' is not defined", apiBaseURLEnvKey)
	}
	accessToken := d.envRepo.Get(accessTokenEnvKey)
	if accessToken == "" {
		return downloadConfig{}, fmt.Errorf("the secret '%s' is not defined", accessTokenEnvKey)
	}

	return downloadConfig{
		Verbose:      input.Verbose,
		RemotePath:   input.RemotePath,
		DownloadPath: input.DownloadPath,
		APIBaseURL:   stepconf.Secret(apiBaseURL),
		AccessToken:  stepconf.Secret(accessToken),
	}, nil
}

func (d *downloader) decompressInPlace(path string) error {
	compressed, err := os.Open(path)
	if err != nil {
		return err
	}
	defer compressed.Close() //nolint:errcheck

	decoder, err := compression.Decompress(compressed)
	if err != nil {
		return err
	}
	defer decoder.Close() //nolint:errcheck

	decompressed, err := os.CreateTemp(filepath.Dir(path), "decompress")
	if err != nil {
		return err
	}
	defer os.Remove(decompressed.Name()) //nolint:errcheck

	if _, err := io.Copy(decompressed, decoder); err != nil {
		decompressed.Close() //nolint:errcheck
		return err
	}
	if err := decompressed.Close(); err != nil {
		return err
	}

	return os.Rename(decompressed.Name(), path)
}
