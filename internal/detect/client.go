package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"arduinohub/pkg/models"
)

const DefaultTimeout = 30 * time.Second

// Client talks to the component detection service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Timeout bounds the whole exchange, including reading the body.
	Timeout time.Duration
	// MaxDimension > 0 downsizes uploads before sending them.
	MaxDimension int
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
		Timeout: DefaultTimeout,
	}
}

// Result is a successful detection.
type Result struct {
	Components []models.DetectedComponent `json:"components"`
}

// Summary renders the result the way the upload page showed it.
func (r Result) Summary() string {
	parts := make([]string, 0, len(r.Components))
	for _, c := range r.Components {
		parts = append(parts, fmt.Sprintf("%d %s", c.Quantity, c.Name))
	}
	return "Detected: " + strings.Join(parts, ", ")
}

type detectResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Detections []struct {
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
	} `json:"detections"`
}

// Detect uploads img and returns the detected components with ids 1..N in
// response order. Every failure is a *Error. There are no retries.
func (c *Client) Detect(ctx context.Context, img Image) (Result, error) {
	if len(img.Data) == 0 {
		return Result{}, ErrNoImage
	}
	if c.MaxDimension > 0 {
		var err error
		if img, err = normalize(img, c.MaxDimension); err != nil {
			return Result{}, err
		}
	}
	if img.Filename == "" {
		img.Filename = "upload"
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, contentType, err := multipartBody(img)
	if err != nil {
		return Result{}, fmt.Errorf("detect: build body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", body)
	if err != nil {
		return Result{}, fmt.Errorf("detect: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Result{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, classifyTransport(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var dr detectResponse
		_ = json.Unmarshal(raw, &dr)
		return Result{}, &Error{Kind: KindServerError, StatusCode: resp.StatusCode, Message: dr.Error}
	}

	var dr detectResponse
	if err := json.Unmarshal(raw, &dr); err != nil {
		return Result{}, &Error{Kind: KindInvalidResponse, Err: err}
	}
	if !dr.Success {
		msg := dr.Error
		if msg == "" {
			msg = "Detection failed"
		}
		return Result{}, &Error{Kind: KindInvalidResponse, Message: msg}
	}

	out := Result{Components: make([]models.DetectedComponent, 0, len(dr.Detections))}
	for i, d := range dr.Detections {
		out.Components = append(out.Components, models.DetectedComponent{
			ID:       i + 1,
			Name:     d.Name,
			Quantity: max(d.Quantity, 0),
		})
	}

	log.Printf("[detect] %d component kinds in %s", len(out.Components), time.Since(start).Round(time.Millisecond))
	return out, nil
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Health checks GET /health. It fails when the service is unreachable or
// reports that its model is not loaded.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health: build request: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Kind: KindServerError, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return &Error{Kind: KindInvalidResponse, Err: err}
	}
	if !hr.ModelLoaded {
		return &Error{Kind: KindServerError, StatusCode: resp.StatusCode, Message: "model not loaded"}
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// classifyTransport puts the deadline first: once our timer has fired, the
// caller sees a timeout whatever the transport reported.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("detect: %w", ctx.Err())
	}
	return &Error{Kind: KindNetworkUnavailable, Err: err}
}

func multipartBody(img Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", img.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
