// Package stability talks to the Stability AI v2beta image endpoints
// and runs dispatched generation requests with retry and delivery.
package stability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/roelfdiedericks/imaginebot/internal/logging"
	"github.com/roelfdiedericks/imaginebot/internal/media"
	"github.com/roelfdiedericks/imaginebot/internal/session"
)

const (
	defaultBaseURL = "https://api.stability.ai"

	// Creative upscaling is asynchronous: the API hands back an id
	// that is polled until the result is ready.
	pollInterval    = 10 * time.Second
	maxPollAttempts = 30

	requestTimeout = 180 * time.Second

	// Default negative prompt applied to generation endpoints that
	// accept one.
	defaultNegativePrompt = "bad anatomy, bad hands, missing fingers, extra fingers, " +
		"deformed, blurry, watermark, text, low quality, jpeg artifacts"
)

// Client is a thin HTTP client for the image API.
type Client struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
	poll    time.Duration
}

// NewClient creates a client. An empty baseURL uses the production API.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: requestTimeout},
		poll:    pollInterval,
	}
}

// Generate runs one generation request synchronously and returns the
// finished artifact. The request's workflow selects the endpoint.
func (c *Client) Generate(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	switch req.Workflow {
	case session.WorkflowGenerate:
		return c.generateSD3(ctx, req)
	case session.WorkflowGenerateV2:
		return c.generateUltra(ctx, req)
	case session.WorkflowUpscale:
		return c.upscale(ctx, req)
	case session.WorkflowReimagine:
		return c.reimagine(ctx, req)
	case session.WorkflowOutpaint:
		return c.outpaint(ctx, req)
	case session.WorkflowErase:
		return c.erase(ctx, req)
	case session.WorkflowInpaint:
		return c.inpaint(ctx, req)
	case session.WorkflowSearchReplace:
		return c.searchReplace(ctx, req)
	default:
		return nil, fmt.Errorf("no endpoint for workflow %s", req.Workflow)
	}
}

// apiResponse is the raw outcome of one HTTP call.
type apiResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// postMultipart sends a multipart POST. Image inputs are scaled to the
// pixel budget before upload. Non-2xx statuses come back as *APIError.
func (c *Client) postMultipart(ctx context.Context, path, accept string, fields map[string]string, images map[string][]byte) (*apiResponse, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("build form: %w", err)
		}
	}
	for name, data := range images {
		scaled, err := media.FitPixelBudget(data)
		if err != nil {
			return nil, fmt.Errorf("prepare %s: %w", name, err)
		}
		fw, err := w.CreateFormFile(name, name+".png")
		if err != nil {
			return nil, fmt.Errorf("build form: %w", err)
		}
		if _, err := fw.Write(scaled); err != nil {
			return nil, fmt.Errorf("build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", accept)

	L_debug("stability request", "path", path, "fields", len(fields), "images", len(images))
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &APIError{Op: path, Status: resp.StatusCode, Body: truncateBody(data)}
	}
	if resp.Header.Get("finish-reason") == "CONTENT_FILTERED" {
		return nil, ErrContentFiltered
	}
	return &apiResponse{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// imageCall runs a synchronous endpoint that answers with raw image
// bytes (Accept: image/*).
func (c *Client) imageCall(ctx context.Context, path string, fields map[string]string, images map[string][]byte) (*media.Artifact, error) {
	resp, err := c.postMultipart(ctx, path, "image/*", fields, images)
	if err != nil {
		return nil, err
	}
	return &media.Artifact{Data: resp.Body, MIME: media.DetectMIME(resp.Body)}, nil
}

// pollResult fetches an async generation result, waiting while the API
// answers 202.
func (c *Client) pollResult(ctx context.Context, id string) (*media.Artifact, error) {
	path := "/v2beta/results/" + id
	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.poll):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "image/*")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", path, err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", path, err)
		}

		switch resp.StatusCode {
		case http.StatusAccepted:
			L_debug("result not ready yet", "id", id, "attempt", attempt+1)
			continue
		case http.StatusOK:
			if resp.Header.Get("finish-reason") == "CONTENT_FILTERED" {
				return nil, ErrContentFiltered
			}
			return &media.Artifact{Data: data, MIME: media.DetectMIME(data)}, nil
		default:
			return nil, &APIError{Op: path, Status: resp.StatusCode, Body: truncateBody(data)}
		}
	}
	return nil, fmt.Errorf("result %s not ready after %d polls", id, maxPollAttempts)
}

// asyncID extracts the generation id from an async endpoint's JSON
// response.
func asyncID(body []byte) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("parse async response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("async response missing id")
	}
	return out.ID, nil
}

func truncateBody(data []byte) string {
	const max = 512
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
