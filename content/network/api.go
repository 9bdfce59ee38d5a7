package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/stashbox-io/go-stashutils/content/network/chunkstream"
)

// apiArgHeader carries the compact-JSON argument of append and finish
// requests, since their bodies are reserved for the raw chunk bytes.
const apiArgHeader = "X-Stash-Api-Arg"

type uploadCursor struct {
	SessionID string `json:"session_id"`
	Offset    uint64 `json:"offset"`
}

type commitInfo struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
}

type finishSessionArg struct {
	Cursor uploadCursor `json:"cursor"`
	Commit commitInfo   `json:"commit"`
}

type getMetadataRequest struct {
	Path string `json:"path"`
}

type getTemporaryLinkRequest struct {
	Path string `json:"path"`
}

type temporaryLinkResponse struct {
	Link     string       `json:"link"`
	Metadata FileMetadata `json:"metadata"`
}

// FileMetadata describes a committed file, as returned by the finish call
// and the metadata endpoints.
type FileMetadata struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	PathLower      string `json:"path_lower"`
	Size           uint64 `json:"size"`
	Rev            string `json:"rev"`
	ContentHash    string `json:"content_hash"`
	ServerModified string `json:"server_modified"`
}

type apiClient struct {
	// streamClient carries the session requests. Their bodies are one-shot
	// streams, so this client must not retry.
	streamClient *http.Client
	// httpClient carries the replayable request/response calls.
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	userAgent   string
	logger      log.Logger
}

func newAPIClient(streamClient *http.Client, client *retryablehttp.Client, baseURL, accessToken, userAgent string, logger log.Logger) apiClient {
	return apiClient{
		streamClient: streamClient,
		httpClient:   client,
		baseURL:      baseURL,
		accessToken:  accessToken,
		userAgent:    userAgent,
		logger:       logger,
	}
}

func (c apiClient) startSession(ctx context.Context, producer *chunkstream.Producer) (string, int64, bool, error) {
	body, written, more, err := c.doSessionRequest(ctx, PhaseStart, nil, producer)
	if err != nil {
		return "", written, more, err
	}

	var response startSessionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", written, more, &ProtocolError{Phase: PhaseStart, Reason: fmt.Sprintf("malformed response body: %s", err)}
	}
	if response.SessionID == "" {
		return "", written, more, &ProtocolError{Phase: PhaseStart, Reason: "response is missing the session identifier"}
	}

	return response.SessionID, written, more, nil
}

func (c apiClient) appendToSession(ctx context.Context, cursor uploadCursor, producer *chunkstream.Producer) (int64, bool, error) {
	_, written, more, err := c.doSessionRequest(ctx, PhaseAppend, cursor, producer)
	return written, more, err
}

func (c apiClient) finishSession(ctx context.Context, cursor uploadCursor, commit commitInfo, producer *chunkstream.Producer) (FileMetadata, error) {
	body, _, _, err := c.doSessionRequest(ctx, PhaseFinish, finishSessionArg{Cursor: cursor, Commit: commit}, producer)
	if err != nil {
		return FileMetadata{}, err
	}

	var metadata FileMetadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return FileMetadata{}, &ProtocolError{Phase: PhaseFinish, Reason: fmt.Sprintf("malformed response body: %s", err)}
	}
	if metadata.ID == "" {
		return FileMetadata{}, &ProtocolError{Phase: PhaseFinish, Reason: "response is missing the file identifier"}
	}

	return metadata, nil
}

type fillResult struct {
	written int64
	more    bool
	err     error
}

// doSessionRequest issues one session POST whose body is streamed from the
// producer through a pipe, using chunked transfer encoding. It returns the
// response body along with the producer's byte count and more-content flag.
func (c apiClient) doSessionRequest(ctx context.Context, phase Phase, arg interface{}, producer *chunkstream.Producer) ([]byte, int64, bool, error) {
	pipeReader, pipeWriter := io.Pipe()
	fillCh := make(chan fillResult, 1)
	go func() {
		written, more, err := producer.Fill(pipeWriter)
		pipeWriter.CloseWithError(err) //nolint:errcheck
		fillCh <- fillResult{written: written, more: more, err: err}
	}()

	url := fmt.Sprintf("%s/upload_session/%s", c.baseURL, phase)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pipeReader)
	if err != nil {
		pipeReader.CloseWithError(err) //nolint:errcheck
		<-fillCh
		return nil, 0, false, fmt.Errorf("create %s request: %w", phase, err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if arg != nil {
		argJSON, err := json.Marshal(arg)
		if err != nil {
			pipeReader.CloseWithError(err) //nolint:errcheck
			<-fillCh
			return nil, 0, false, fmt.Errorf("marshal %s arguments: %w", phase, err)
		}
		req.Header.Set(apiArgHeader, string(argJSON))
	}
	// The body length is not known in advance, the transfer is chunked
	req.ContentLength = -1

	dump, err := httputil.DumpRequest(req, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Session request dump: %s", string(dump))

	resp, err := c.streamClient.Do(req)
	if err != nil {
		pipeReader.CloseWithError(err) //nolint:errcheck
		fill := <-fillCh
		if fill.err != nil && !errors.Is(fill.err, io.ErrClosedPipe) {
			return nil, fill.written, fill.more, fmt.Errorf("%s: %w", phase, fill.err)
		}
		return nil, fill.written, fill.more, &TransportError{Phase: phase, Err: err}
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	// The transport closed the request body by now, so the fill is done
	fill := <-fillCh
	if fill.err != nil && !errors.Is(fill.err, io.ErrClosedPipe) {
		return nil, fill.written, fill.more, fmt.Errorf("%s: %w", phase, fill.err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fill.written, fill.more, rejectionError(phase, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fill.written, fill.more, &TransportError{Phase: phase, Err: err}
	}

	return body, fill.written, fill.more, nil
}

func (c apiClient) getMetadata(ctx context.Context, path string) (FileMetadata, error) {
	url := fmt.Sprintf("%s/files/get_metadata", c.baseURL)

	body, err := json.Marshal(getMetadataRequest{Path: path})
	if err != nil {
		return FileMetadata{}, err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return FileMetadata{}, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FileMetadata{}, err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return FileMetadata{}, ErrFileNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return FileMetadata{}, unwrapError(resp)
	}

	var metadata FileMetadata
	err = json.NewDecoder(resp.Body).Decode(&metadata)
	if err != nil {
		return FileMetadata{}, err
	}

	return metadata, nil
}

func (c apiClient) getTemporaryLink(ctx context.Context, path string) (temporaryLinkResponse, error) {
	url := fmt.Sprintf("%s/files/get_temporary_link", c.baseURL)

	body, err := json.Marshal(getTemporaryLinkRequest{Path: path})
	if err != nil {
		return temporaryLinkResponse{}, err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return temporaryLinkResponse{}, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return temporaryLinkResponse{}, err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return temporaryLinkResponse{}, ErrFileNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return temporaryLinkResponse{}, unwrapError(resp)
	}

	var response temporaryLinkResponse
	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return temporaryLinkResponse{}, err
	}
	if response.Link == "" {
		return temporaryLinkResponse{}, fmt.Errorf("response is missing the download link")
	}

	return response, nil
}

// rejectionError turns a non-2xx session response into a RemoteRejectionError
// carrying the verbatim body.
func rejectionError(phase Phase, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Phase: phase, Err: err}
	}
	return &RemoteRejectionError{Phase: phase, StatusCode: resp.StatusCode, Body: body}
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
