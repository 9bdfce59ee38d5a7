package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"

	"github.com/stashbox-io/go-stashutils/content/compression"
	"github.com/stashbox-io/go-stashutils/content/network"
)

// UploadInput is the information that comes from the steps and tools that
// call this shared implementation
type UploadInput struct {
	// StepId identifies the exact caller step. Used for logging events.
	StepId  string
	Verbose bool
	// SourcePaths are the local files to upload. Items may contain
	// doublestar-style wildcards.
	SourcePaths []string
	// DestinationDir is the remote folder the artifacts are committed under.
	DestinationDir string
	// Autorename lets the service resolve name conflicts instead of failing.
	Autorename bool
	// MuteNotifications suppresses service-side change notifications.
	MuteNotifications bool
	// Compress enables streaming zstd compression of each artifact.
	Compress bool
	// SkipIfUnchanged skips files whose content already matches the remote
	// copy (compared by checksum). Has no effect on compressed uploads.
	SkipIfUnchanged bool
	// ChunkSize is the per-request upload size cap as a human readable value
	// ("120MB"). Empty means the default.
	ChunkSize string
}

// Uploader ...
type Uploader interface {
	Upload(input UploadInput) error
}

type uploadConfig struct {
	Verbose           bool
	SourcePaths       []string
	DestinationDir    string
	Autorename        bool
	MuteNotifications bool
	Compress          bool
	SkipIfUnchanged   bool
	ChunkSizeBytes    int64
	APIBaseURL        stepconf.Secret
	AccessToken       stepconf.Secret
}

type uploader struct {
	envRepo          env.Repository
	logger           log.Logger
	pathModifier     pathutil.PathModifier
	uploader         network.Uploader
	metadataProvider network.MetadataProvider
}

// NewUploader creates a new artifact uploader instance. `sessionUploader` and
// `metadataProvider` can be nil, unless you want to provide custom
// implementations.
func NewUploader(
	envRepo env.Repository,
	logger log.Logger,
	pathModifier pathutil.PathModifier,
	sessionUploader network.Uploader,
	metadataProvider network.MetadataProvider,
) *uploader {
	var uploaderImpl network.Uploader = sessionUploader
	if sessionUploader == nil {
		uploaderImpl = network.DefaultUploader{}
	}
	var metadataImpl network.MetadataProvider = metadataProvider
	if metadataProvider == nil {
		metadataImpl = network.DefaultMetadataProvider{}
	}
	return &uploader{
		envRepo:          envRepo,
		logger:           logger,
		pathModifier:     pathModifier,
		uploader:         uploaderImpl,
		metadataProvider: metadataImpl,
	}
}

// Upload ...
func (u *uploader) Upload(input UploadInput) error {
	config, err := u.createConfig(input)
	if err != nil {
		return fmt.Errorf("failed to parse inputs: %w", err)
	}

	tracker := newStepTracker(input.StepId, u.envRepo, u.logger)
	defer tracker.wait()

	files, err := u.evaluatePaths(config.SourcePaths)
	if err != nil {
		return fmt.Errorf("failed to resolve source paths: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no files match the provided source paths")
	}

	for _, file := range files {
		if err := u.uploadFile(file, config, &tracker); err != nil {
			return err
		}
	}

	return nil
}

func (u *uploader) createConfig(input UploadInput) (uploadConfig, error) {
	if len(input.SourcePaths) == 0 {
		return uploadConfig{}, fmt.Errorf("source path list is empty")
	}
	if strings.TrimSpace(input.DestinationDir) == "" {
		return uploadConfig{}, fmt.Errorf("destination dir should not be empty")
	}

	apiBaseURL := u.envRepo.Get(apiBaseURLEnvKey)
	if apiBaseURL == "" {
		return uploadConfig{}, fmt.Errorf("the secret '%s' is not defined", apiBaseURLEnvKey)
	}
	accessToken := u.envRepo.Get(accessTokenEnvKey)
	if accessToken == "" {
		return uploadConfig{}, fmt.Errorf("the secret '%s' is not defined", accessTokenEnvKey)
	}

	var chunkSizeBytes int64
	if input.ChunkSize != "" {
		var err error
		chunkSizeBytes, err = units.RAMInBytes(input.ChunkSize)
		if err != nil {
			return uploadConfig{}, fmt.Errorf("invalid chunk size %s: %w", input.ChunkSize, err)
		}
	}

	return uploadConfig{
		Verbose:           input.Verbose,
		SourcePaths:       input.SourcePaths,
		DestinationDir:    input.DestinationDir,
		Autorename:        input.Autorename,
		MuteNotifications: input.MuteNotifications,
		Compress:          input.Compress,
		SkipIfUnchanged:   input.SkipIfUnchanged,
		ChunkSizeBytes:    chunkSizeBytes,
		APIBaseURL:        stepconf.Secret(apiBaseURL),
		AccessToken:       stepconf.Secret(accessToken),
	}, nil
}

func (u *uploader) evaluatePaths(paths []string) ([]string, error) {
	var files []string
	for _, item := range paths {
		if !strings.Contains(item, "*") {
			absPath, err := u.pathModifier.AbsPath(item)
			if err != nil {
				return nil, err
			}
			files = append(files, absPath)
			continue
		}

		base, pattern := doublestar.SplitPattern(item)
		absBase, err := u.pathModifier.AbsPath(base)
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", item, err)
		}
		if matches == nil {
			u.logger.Warnf("No match for path pattern: %s", item)
			continue
		}
		for _, match := range matches {
			matchPath := filepath.Join(absBase, match)
			info, err := os.Stat(matchPath)
			if err != nil {
				return nil, err
			}
			if info.IsDir() {
				continue
			}
			files = append(files, matchPath)
		}
	}
	return files, nil
}

func (u *uploader) uploadFile(filePath string, config uploadConfig, tracker *stepTracker) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			u.logger.Errorf("failed to close %s: %s", filePath, err)
		}
	}(file)

	fileInfo, err := file.Stat()
	if err != nil {
		return err
	}

	u.logger.Println()
	u.logger.Infof("Uploading %s", filePath)
	u.logger.Printf("File size: %s", units.HumanSizeWithPrecision(float64(fileInfo.Size()), 3))

	destinationPath := path.Join(config.DestinationDir, filepath.Base(filePath))

	if config.SkipIfUnchanged && !config.Compress {
		if skip := u.canSkipUpload(filePath, destinationPath, config); skip {
			u.logger.Donef("Remote copy is up to date, skipping upload")
			tracker.logUploadSkipped(destinationPath)
			return nil
		}
	}

	var source io.Reader = file
	if config.Compress {
		compressed := compression.Compress(file)
		defer func() {
			if err := compressed.Close(); err != nil {
				u.logger.Errorf("failed to close compressor: %s", err)
			}
		}()
		source = compressed
		destinationPath += compression.Extension
	}

	params := network.UploadParams{
		APIBaseURL:        string(config.APIBaseURL),
		Token:             string(config.AccessToken),
		UserAgent:         defaultUserAgent,
		DestinationPath:   destinationPath,
		Autorename:        config.Autorename,
		MuteNotifications: config.MuteNotifications,
		ChunkSizeBytes:    config.ChunkSizeBytes,
	}

	uploadStartTime := time.Now()
	metadata, err := u.uploader.Upload(context.Background(), params, source, u.logger)
	if err != nil {
		return fmt.Errorf("artifact upload failed: %w", err)
	}
	uploadTime := time.Since(uploadStartTime).Round(time.Second)

	u.logger.Donef("Uploaded to %s in %s (revision %s)", metadata.PathLower, uploadTime, metadata.Rev)
	tracker.logArtifactUploaded(uploadTime, fileInfo, config.Compress)

	return nil
}

// canSkipUpload compares the local checksum with the remote copy's content
// hash. Lookup failures are not fatal, the upload just proceeds.
func (u *uploader) canSkipUpload(filePath, destinationPath string, config uploadConfig) bool {
	checksum, err := checksumOfFile(filePath)
	if err != nil {
		u.logger.Warnf(err.Error())
		// fail silently and continue
		return false
	}

	params := network.MetadataParams{
		APIBaseURL: string(config.APIBaseURL),
		Token:      string(config.AccessToken),
		UserAgent:  defaultUserAgent,
		RemotePath: destinationPath,
	}
	metadata, err := u.metadataProvider.GetMetadata(context.Background(), params, u.logger)
	if err != nil {
		if !errors.Is(err, network.ErrFileNotFound) {
			u.logger.Warnf("Could not read remote metadata: %s", err)
		}
		return false
	}

	return metadata.ContentHash == checksum
}
