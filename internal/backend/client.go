// Package backend implements the thin, retrying HTTP client over the
// logical REST endpoints of spec.md §4.2/§6. Retry is driven by
// cenkalti/backoff/v4's exponential-backoff-with-jitter policy, the same
// algorithmic shape azcopy's common/retryUtils.go hand-rolls for its own
// Azure/GCS/S3 clients; here it is delegated to the ecosystem library
// that implements it, since nothing about the retry algorithm is
// backend-specific.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
	"github.com/CrispStrobe/filen-cli-go/internal/metrics"
)

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 30 * time.Second
	retryMaxAttempts     = 5
	attemptTimeout       = 60 * time.Second
)

// Client is a minimal typed client over the backend's JSON REST API.
type Client struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
	Metrics    *metrics.Registry
}

// New builds a Client. httpClient may be nil, in which case a default one
// with attemptTimeout is used (one *http.Client per process, mirroring
// azcopy's common/azHttpClient.go single shared client).
func New(baseURL, authToken string, httpClient *http.Client, m *metrics.Registry) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: attemptTimeout}
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Client{BaseURL: baseURL, AuthToken: authToken, HTTPClient: httpClient, Metrics: m}
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5 // full-jitter-ish spread around the computed interval
	b.MaxElapsedTime = 0        // bounded by retryMaxAttempts via WithMaxRetries instead
	return backoff.WithContext(backoff.WithMaxRetries(b, retryMaxAttempts-1), ctx)
}

// classify turns an HTTP status code into a Kind plus, for rate limiting,
// the Retry-After delay in seconds, per spec.md §4.2/§7. It looks at the
// status code only; an auth failure reported in a response body is not
// detected here.
func classify(statusCode int, retryAfterHeader string) (ferrors.Kind, int) {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return ferrors.Auth, 0
	case statusCode == http.StatusNotFound:
		return ferrors.NotFound, 0
	case statusCode == http.StatusConflict:
		return ferrors.Conflict, 0
	case statusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(retryAfterHeader)
		return ferrors.RateLimited, retryAfter
	case statusCode >= 500:
		return ferrors.Transient, 0
	case statusCode >= 400:
		return ferrors.Fatal, 0
	}
	return "", 0
}

// doIdempotent executes fn (one HTTP attempt) with the retry policy,
// retrying only on transient/rate_limited classification or
// connection-level failure. Used for reads and chunk PUT/GET.
func (c *Client) doIdempotent(ctx context.Context, op string, fn func(context.Context) (*http.Response, error)) (*http.Response, error) {
	var resp *http.Response
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()

		r, err := fn(attemptCtx)
		if err != nil {
			c.Metrics.RetryCount.WithLabelValues(op).Inc()
			return ferrors.New(ferrors.Transient, op, err) // connection-level failure
		}
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}
		kind, retryAfter := classify(r.StatusCode, r.Header.Get("Retry-After"))
		body, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
		_ = r.Body.Close()
		ferr := &ferrors.Error{Kind: kind, Op: op, RetryAfter: retryAfter, Err: fmt.Errorf("status %d: %s", r.StatusCode, string(body))}
		if kind == ferrors.Transient || kind == ferrors.RateLimited {
			c.Metrics.RetryCount.WithLabelValues(op).Inc()
			if kind == ferrors.RateLimited && retryAfter > 0 {
				// Honor the server's Retry-After hint directly rather than
				// the computed exponential delay, per spec.md §4.2.
				select {
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				case <-time.After(time.Duration(retryAfter) * time.Second):
				}
			}
			return ferr
		}
		return backoff.Permanent(ferr)
	}

	if err := backoff.Retry(operation, c.newBackoff(ctx)); err != nil {
		return nil, unwrapPermanent(err)
	}
	return resp, nil
}

// doNonIdempotent executes fn once, retrying ONLY on connection-level
// failure (never on a received HTTP response), per spec.md §4.2.
func (c *Client) doNonIdempotent(ctx context.Context, op string, fn func(context.Context) (*http.Response, error)) (*http.Response, error) {
	var resp *http.Response
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()

		r, err := fn(attemptCtx)
		if err != nil {
			c.Metrics.RetryCount.WithLabelValues(op).Inc()
			return ferrors.New(ferrors.Transient, op, err)
		}
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}
		kind, retryAfter := classify(r.StatusCode, r.Header.Get("Retry-After"))
		body, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
		_ = r.Body.Close()
		return backoff.Permanent(&ferrors.Error{Kind: kind, Op: op, RetryAfter: retryAfter, Err: fmt.Errorf("status %d: %s", r.StatusCode, string(body))})
	}

	if err := backoff.Retry(operation, c.newBackoff(ctx)); err != nil {
		return nil, unwrapPermanent(err)
	}
	return resp, nil
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if pe, ok := err.(*backoff.PermanentError); ok {
		perm = pe
		return perm.Err
	}
	return err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, reqBody any) (*http.Request, error) {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, ferrors.New(ferrors.Fatal, "backend.jsonRequest", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, ferrors.New(ferrors.Fatal, "backend.jsonRequest", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	return req, nil
}

func decodeJSON[T any](resp *http.Response) (T, error) {
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, ferrors.New(ferrors.Fatal, "backend.decodeJSON", err)
	}
	return out, nil
}

// --- Login -------------------------------------------------------------

type LoginResponse struct {
	Email     string `json:"email"`
	SaltHex   string `json:"salt"`
	AuthToken string `json:"authToken"`
	APIKey    string `json:"apiKey"`
}

func (c *Client) Login(ctx context.Context, email, authChallengeResponse string) (LoginResponse, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/v3/login", map[string]string{
		"email": email, "password": authChallengeResponse,
	})
	if err != nil {
		return LoginResponse{}, err
	}
	resp, err := c.doNonIdempotent(ctx, "backend.Login", func(ctx context.Context) (*http.Response, error) {
		return c.HTTPClient.Do(req.WithContext(ctx))
	})
	if err != nil {
		return LoginResponse{}, err
	}
	return decodeJSON[LoginResponse](resp)
}

// --- Directory listing ---------------------------------------------------

type RawNode struct {
	UUID             uuid.UUID `json:"uuid"`
	ParentUUID       uuid.UUID `json:"parent"`
	IsFolder         bool      `json:"isFolder"`
	NameEnvelope     string    `json:"nameEnvelope"`
	MetadataEnvelope string    `json:"metadataEnvelope"` // files only: FileMetadata envelope keyed by content key
	Timestamp        int64     `json:"timestamp"`        // ms since epoch
	Trashed          bool      `json:"trash"`
	Size             int64     `json:"size"`
	Chunks           int       `json:"chunks"`
	Region           string    `json:"region"`
	Bucket           string    `json:"bucket"`
	Version          string    `json:"version"`
}

func (c *Client) ListDirectory(ctx context.Context, folderID uuid.UUID) ([]RawNode, error) {
	req, err := c.jsonRequest(ctx, http.MethodGet, "/v3/dir/content/"+folderID.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.doIdempotent(ctx, "backend.ListDirectory", func(ctx context.Context) (*http.Response, error) {
		return c.HTTPClient.Do(req.WithContext(ctx))
	})
	if err != nil {
		return nil, err
	}
	type listResponse struct {
		Items []RawNode `json:"items"`
	}
	out, err := decodeJSON[listResponse](resp)
	return out.Items, err
}

func (c *Client) CreateFolder(ctx context.Context, parentID uuid.UUID, nameEnvelope string) (uuid.UUID, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/v3/dir/create", map[string]string{
		"parent": parentID.String(), "nameEnvelope": nameEnvelope,
	})
	if err != nil {
		return uuid.Nil, err
	}
	resp, err := c.doNonIdempotent(ctx, "backend.CreateFolder", func(ctx context.Context) (*http.Response, error) {
		return c.HTTPClient.Do(req.WithContext(ctx))
	})
	if err != nil {
		return uuid.Nil, err
	}
	type created struct {
		UUID uuid.UUID `json:"uuid"`
	}
	out, err := decodeJSON[created](resp)
	return out.UUID, err
}

func (c *Client) GetFileInfo(ctx context.Context, fileID uuid.UUID) (RawNode, error) {
	req, err := c.jsonRequest(ctx, http.MethodGet, "/v3/file/"+fileID.String(), nil)
	if err != nil {
		return RawNode{}, err
	}
	resp, err := c.doIdempotent(ctx, "backend.GetFileInfo", func(ctx context.Context) (*http.Response, error) {
		return c.HTTPClient.Do(req.WithContext(ctx))
	})
	if err != nil {
		return RawNode{}, err
	}
	return decodeJSON[RawNode](resp)
}

// --- Upload ---------------------------------------------------------------

type BeginUploadResponse struct {
	FileUUID  uuid.UUID `json:"uuid"`
	UploadKey string    `json:"uploadKey"`
	Region    string    `json:"region"`
	Bucket    string    `json:"bucket"`
}

func (c *Client) BeginUpload(ctx context.Context, parentID uuid.UUID, nameEnvelope string) (BeginUploadResponse, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/v3/upload/begin", map[string]string{
		"parent": parentID.String(), "nameEnvelope": nameEnvelope,
	})
	if err != nil {
		return BeginUploadResponse{}, err
	}
	resp, err := c.doNonIdempotent(ctx, "backend.BeginUpload", func(ctx context.Context) (*http.Response, error) {
		return c.HTTPClient.Do(req.WithContext(ctx))
	})
	if err != nil {
		return BeginUploadResponse{}, err
	}
	return decodeJSON[BeginUploadResponse](resp)
}

// PutChunk uploads one ciphertext chunk as a raw body (not multipart), per
// spec.md §4.2. It is idempotent (re-sending the same index overwrites)
// and so participates in the full retry policy.
func (c *Client) PutChunk(ctx context.Context, uploadKey string, region, bucket string, fileID uuid.UUID, index int, ciphertext []byte) error {
	path := fmt.Sprintf("/v3/upload/%s/%s/%s/%d?key=%s", region, bucket, fileID.String(), index, uploadKey)
	resp, err := c.doIdempotent(ctx, "backend.PutChunk", func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(ciphertext))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
		c.Metrics.BytesUploaded.Add(float64(len(ciphertext)))
		return c.HTTPClient.Do(req)
	})
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	c.Metrics.ChunksUploaded.Inc()
	return nil
}

// FinishUpload is non-idempotent: retried only on connection failure.
func (c *Client) FinishUpload(ctx context.Context, fileID uuid.UUID, uploadKey, metadataEnvelope, finalHashHex string) error {
	req, err := c.jsonRequest(ctx, http.MethodPost, "/v3/upload/done", map[string]string{
		"uuid": fileID.String(), "uploadKey": uploadKey,
		"metadataEnvelope": metadataEnvelope, "hash": finalHashHex,
	})
	if err != nil {
		return err
	}
	resp, err := c.doNonIdempotent(ctx, "backend.FinishUpload", func(ctx context.Context) (*http.Response, error) {
		return c.HTTPClient.Do(req.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// --- Download ---------------------------------------------------------------

// GetChunk downloads one ciphertext chunk.
func (c *Client) GetChunk(ctx context.Context, region, bucket string, fileID uuid.UUID, index int) ([]byte, error) {
	path := fmt.Sprintf("/v3/download/%s/%s/%s/%d", region, bucket, fileID.String(), index)
	resp, err := c.doIdempotent(ctx, "backend.GetChunk", func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
		return c.HTTPClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ferrors.New(ferrors.Transient, "backend.GetChunk", err)
	}
	c.Metrics.ChunksDownloaded.Inc()
	c.Metrics.BytesDownloaded.Add(float64(len(data)))
	return data, nil
}

// --- Mutations --------------------------------------------------------------

func (c *Client) simplePost(ctx context.Context, op, path string, body any) error {
	req, err := c.jsonRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	resp, err := c.doNonIdempotent(ctx, op, func(ctx context.Context) (*http.Response, error) {
		return c.HTTPClient.Do(req.WithContext(ctx))
	})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) Move(ctx context.Context, id, newParentID uuid.UUID) error {
	return c.simplePost(ctx, "backend.Move", "/v3/move", map[string]string{"uuid": id.String(), "to": newParentID.String()})
}

func (c *Client) Rename(ctx context.Context, id uuid.UUID, nameEnvelope string) error {
	return c.simplePost(ctx, "backend.Rename", "/v3/rename", map[string]string{"uuid": id.String(), "nameEnvelope": nameEnvelope})
}

func (c *Client) Trash(ctx context.Context, id uuid.UUID) error {
	return c.simplePost(ctx, "backend.Trash", "/v3/trash", map[string]string{"uuid": id.String()})
}

func (c *Client) Restore(ctx context.Context, id uuid.UUID) error {
	return c.simplePost(ctx, "backend.Restore", "/v3/restore", map[string]string{"uuid": id.String()})
}

func (c *Client) Delete(ctx context.Context, id uuid.UUID) error {
	return c.simplePost(ctx, "backend.Delete", "/v3/delete", map[string]string{"uuid": id.String()})
}

func (c *Client) ListTrash(ctx context.Context) ([]RawNode, error) {
	req, err := c.jsonRequest(ctx, http.MethodGet, "/v3/trash", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.doIdempotent(ctx, "backend.ListTrash", func(ctx context.Context) (*http.Response, error) {
		return c.HTTPClient.Do(req.WithContext(ctx))
	})
	if err != nil {
		return nil, err
	}
	type listResponse struct {
		Items []RawNode `json:"items"`
	}
	out, err := decodeJSON[listResponse](resp)
	return out.Items, err
}

type UserInfo struct {
	Email        string `json:"email"`
	StorageUsed  int64  `json:"storageUsed"`
	StorageLimit int64  `json:"storageLimit"`
}

func (c *Client) UserInfo(ctx context.Context) (UserInfo, error) {
	req, err := c.jsonRequest(ctx, http.MethodGet, "/v3/user/info", nil)
	if err != nil {
		return UserInfo{}, err
	}
	resp, err := c.doIdempotent(ctx, "backend.UserInfo", func(ctx context.Context) (*http.Response, error) {
		return c.HTTPClient.Do(req.WithContext(ctx))
	})
	if err != nil {
		return UserInfo{}, err
	}
	return decodeJSON[UserInfo](resp)
}
