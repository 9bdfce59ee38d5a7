package content

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/stashbox-io/go-stashutils/content/network"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	} else {
		return ""
	}
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

func validEnvRepo() fakeEnvRepo {
	return fakeEnvRepo{envVars: map[string]string{
		"STASHBOX_API_BASE_URL": "https://content.stashbox.example/2",
		"STASHBOX_ACCESS_TOKEN": "fake-token",
	}}
}

type fakeSessionUploader struct {
	params []network.UploadParams
	bodies [][]byte
	err    error
}

func (f *fakeSessionUploader) Upload(ctx context.Context, params network.UploadParams, source io.Reader, logger log.Logger) (network.FileMetadata, error) {
	if f.err != nil {
		return network.FileMetadata{}, f.err
	}

	body, err := io.ReadAll(source)
	if err != nil {
		return network.FileMetadata{}, err
	}
	f.params = append(f.params, params)
	f.bodies = append(f.bodies, body)

	return network.FileMetadata{
		ID:        "id:fake",
		PathLower: strings.ToLower(params.DestinationPath),
		Size:      uint64(len(body)),
		Rev:       "0100a",
	}, nil
}

type fakeMetadataProvider struct {
	metadata map[string]network.FileMetadata
	calls    int
}

func (f *fakeMetadataProvider) GetMetadata(ctx context.Context, params network.MetadataParams, logger log.Logger) (network.FileMetadata, error) {
	f.calls++
	metadata, ok := f.metadata[params.RemotePath]
	if !ok {
		return network.FileMetadata{}, network.ErrFileNotFound
	}
	return metadata, nil
}

type fakeFileDownloader struct {
	content []byte
	params  []network.DownloadParams
	err     error
}

func (f *fakeFileDownloader) Download(ctx context.Context, params network.DownloadParams, logger log.Logger) (network.FileMetadata, error) {
	if f.err != nil {
		return network.FileMetadata{}, f.err
	}

	f.params = append(f.params, params)
	if err := os.WriteFile(params.DownloadPath, f.content, 0600); err != nil {
		return network.FileMetadata{}, err
	}

	return network.FileMetadata{
		ID:        "id:fake",
		PathLower: strings.ToLower(params.RemotePath),
		Size:      uint64(len(f.content)),
	}, nil
}
