package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
)

// AuthRequiredError is returned when the server wants the vault password for a file.
type AuthRequiredError struct {
	Reason string
}

func (e *AuthRequiredError) Error() string {
	if e.Reason == "" {
		return "password required"
	}
	return "password required: " + e.Reason
}

func (e *AuthRequiredError) Unwrap() error {
	return types.ErrPasswordRequired
}

// Client talks to a vault server.
type Client struct {
	baseURL  *url.URL
	control  *http.Client
	transfer *http.Client
}

// NewClient uses the shared tool HTTP clients (self-signed certificates accepted).
func NewClient(baseURL string) (*Client, error) {
	return NewClientWithHTTP(baseURL, tool.ControlHttpClient, tool.TransferHttpClient)
}

// NewClientWithHTTP lets tests and embedders supply their own clients.
func NewClientWithHTTP(baseURL string, control, transfer *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	return &Client{baseURL: u, control: control, transfer: transfer}, nil
}

// resolve turns a server path or relative URL such as /api/download?token=x into an absolute URL.
func (c *Client) resolve(ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return c.baseURL.String() + ref
	}
	return c.baseURL.ResolveReference(r).String()
}

// UploadChunk posts one chunk as multipart fields chunk, uploadId and chunkIndex.
func (c *Client) UploadChunk(ctx context.Context, uploadID string, index int, chunk []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("uploadId", uploadID); err != nil {
		return err
	}
	if err := mw.WriteField("chunkIndex", strconv.Itoa(index)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("chunk", "blob")
	if err != nil {
		return err
	}
	if _, err := part.Write(chunk); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("/api/upload/chunk"), &body)
	if err != nil {
		return fmt.Errorf("failed to create upload-chunk request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out types.UploadChunkResponse
	if err := c.do(c.transfer, req, "upload-chunk", &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("upload-chunk %d rejected", index)
	}
	return nil
}

// FinalizeUpload asks the server to assemble the session and returns the stored path.
func (c *Client) FinalizeUpload(ctx context.Context, request types.FinalizeUploadRequest) (string, error) {
	var out types.FinalizeUploadResponse
	if err := c.postJSON(ctx, "/api/upload/finalize", "finalize-upload", request, &out); err != nil {
		return "", err
	}
	if !out.Success {
		return "", fmt.Errorf("finalize-upload rejected")
	}
	return out.Path, nil
}

// PrepareDownload obtains a tokenized download URL for filePath. A password-protected file
// without (or with a wrong) password yields *AuthRequiredError.
func (c *Client) PrepareDownload(ctx context.Context, filePath, password string) (string, error) {
	var out types.PrepareDownloadResponse
	err := c.postJSON(ctx, "/api/download/prepare", "prepare-download", types.PrepareDownloadRequest{
		FilePath: filePath,
		Password: password,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.RequiresAuth {
		return "", &AuthRequiredError{Reason: out.Reason}
	}
	if out.DownloadURL == "" {
		return "", fmt.Errorf("prepare-download response missing downloadUrl")
	}
	return c.resolve(out.DownloadURL), nil
}

// MediaToken obtains a token for inline preview of filePath.
func (c *Client) MediaToken(ctx context.Context, filePath string) (string, error) {
	var out types.MediaTokenResponse
	if err := c.postJSON(ctx, "/api/media/token", "media-token", types.MediaTokenRequest{FilePath: filePath}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("media-token response missing token")
	}
	return out.Token, nil
}

// List returns the entries of folder dir.
func (c *Client) List(ctx context.Context, dir string) ([]types.StoredFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/api/files?path="+url.QueryEscape(dir)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create list request: %w", err)
	}
	var out types.ListFilesResponse
	if err := c.do(c.control, req, "list", &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// Stat finds filePath by listing its parent folder.
func (c *Client) Stat(ctx context.Context, filePath string) (types.StoredFile, error) {
	filePath = strings.Trim(filePath, "/")
	parent := path.Dir(filePath)
	if parent == "." {
		parent = ""
	}
	files, err := c.List(ctx, parent)
	if err != nil {
		return types.StoredFile{}, err
	}
	for _, f := range files {
		if f.Path == filePath {
			return f, nil
		}
	}
	return types.StoredFile{}, fmt.Errorf("%w: %s", types.ErrNotFound, filePath)
}

// CreateFolder creates name inside dir.
func (c *Client) CreateFolder(ctx context.Context, dir, name string) error {
	return c.postJSON(ctx, "/api/files/folder", "create-folder", types.CreateFolderRequest{CurrentPath: dir, FolderName: name}, nil)
}

func (c *Client) postJSON(ctx context.Context, endpoint, op string, in, out any) error {
	payload, err := sonic.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}
	req, err := tool.NewHTTPReqWithApplication(http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(endpoint), bytes.NewReader(payload)))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	return c.do(c.control, req, op, out)
}

// do sends req and decodes a 2xx JSON body into out (when non-nil).
// A 401 carrying requiresAuth is decoded into out as well so callers can inspect it.
func (c *Client) do(hc *http.Client, req *http.Request, op string, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return fmt.Errorf("%s cancelled: %w", op, ctxErr)
		}
		return fmt.Errorf("failed to send %s request: %w", op, err)
	}
	defer tool.DrainAndClose(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		var auth types.PrepareDownloadResponse
		if err := sonic.Unmarshal(body, &auth); err == nil && auth.RequiresAuth {
			return &AuthRequiredError{Reason: auth.Reason}
		}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(op, resp, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", op, err)
	}
	return nil
}

// statusError maps a non-2xx response to an error, wrapping the matching sentinel where one exists.
func statusError(op string, resp *http.Response, body []byte) error {
	var e struct {
		Error  string `json:"error"`
		Exists bool   `json:"exists"`
	}
	msg := resp.Status
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &e); err == nil && e.Error != "" {
			msg = e.Error
		}
	}
	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = errors.New("invalid request")
	case http.StatusUnauthorized:
		sentinel = types.ErrInvalidPassword
	case http.StatusForbidden:
		sentinel = types.ErrTokenInvalid
	case http.StatusNotFound:
		sentinel = types.ErrNotFound
	case http.StatusConflict:
		sentinel = types.ErrIncompleteUpload
		if e.Exists {
			sentinel = types.ErrAlreadyExists
		}
	case http.StatusRequestedRangeNotSatisfiable:
		sentinel = types.ErrUnsatisfiableRange
	case http.StatusTooManyRequests:
		sentinel = errors.New("too many requests")
	default:
		sentinel = errors.New("server error")
	}
	return fmt.Errorf("%s failed: %w: %s", op, sentinel, msg)
}
