// Package match submits processed photos to the remote matching service.
package match

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"capture-station-go/internal/faults"
)

const (
	matchPath  = "/match-photo"
	uploadPath = "/upload-photo"

	// DefaultTimeout bounds one request including the body.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 32 << 20
)

// Photo is anything that can be sent as a base64 JPEG.
type Photo interface {
	Base64() string
}

// Options configures a Client.
type Options struct {
	BaseURL string
	// UserID is sent with uploads.
	UserID     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the matching service. Each call is a single attempt;
// retrying is up to the caller.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

// NewClient creates a client for opts.BaseURL.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		userID:  opts.UserID,
		http:    hc,
	}
}

type matchRequest struct {
	PhotoData string `json:"photoData"`
}

type uploadRequest struct {
	UserID    string `json:"UserId"`
	PhotoData string `json:"Photo_data"`
}

// Match submits photo to /match-photo. Transport problems and non-2xx
// replies are SubmitTransport errors; unreadable replies and replies
// without matched_photo are SubmitDecode errors.
func (c *Client) Match(ctx context.Context, photo Photo) (*Result, error) {
	body, err := c.post(ctx, matchPath, matchRequest{PhotoData: photo.Base64()})
	if err != nil {
		return nil, err
	}

	var res Result
	if err := sonic.Unmarshal(body, &res); err != nil {
		return nil, faults.Wrap(faults.KindSubmitDecode, "match.match", "decode reply", err)
	}
	if res.MatchedPhoto == "" {
		return nil, faults.New(faults.KindSubmitDecode, "match.match", "reply has no matched_photo")
	}
	log.Printf("[Match] Matched %q by %s (distance %s)", res.Name, res.Author, res.SimilarityDistance)
	return &res, nil
}

// Upload stores photo for the configured user via /upload-photo.
func (c *Client) Upload(ctx context.Context, photo Photo) (*UploadAck, error) {
	body, err := c.post(ctx, uploadPath, uploadRequest{UserID: c.userID, PhotoData: photo.Base64()})
	if err != nil {
		return nil, err
	}

	var ack UploadAck
	if len(bytes.TrimSpace(body)) > 0 {
		if err := sonic.Unmarshal(body, &ack); err != nil {
			return nil, faults.Wrap(faults.KindSubmitDecode, "match.upload", "decode reply", err)
		}
	}
	log.Printf("[Match] Upload accepted: %s", ack.Message)
	return &ack, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	op := "match.post" + strings.ReplaceAll(path, "/", ".")

	reqJSON, err := sonic.Marshal(payload)
	if err != nil {
		return nil, faults.Wrap(faults.KindSubmitTransport, op, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, faults.Wrap(faults.KindSubmitTransport, op, "create request", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindSubmitTransport, op, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, faults.Wrap(faults.KindSubmitTransport, op, "read reply", err)
	}

	log.Printf("[Match] POST %s -> %d in %v (request %s, %d bytes sent)",
		path, resp.StatusCode, time.Since(start).Round(time.Millisecond), requestID, len(reqJSON))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, faults.New(faults.KindSubmitTransport, op,
			fmt.Sprintf("server returned %d: %s", resp.StatusCode, snippet(body)))
	}
	return body, nil
}

func snippet(b []byte) string {
	const n = 200
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
