// Package transcribe implements the per-job pipeline: decode, mix, chunk,
// transcribe with key-rotating retry, label speakers, and render the
// deliverable document.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"transcriptor-pro/internal/types"
)

// Domain hint sent with every chunk; proper nouns the model would otherwise
// mangle.
const transcriptionPrompt = "PIMO TV, Tian Rodríguez, Jesús Benavides, marketing, ventas."

// APIError is a classified transport failure. Status carries the HTTP code;
// Timeout marks request timeouts. Classification happens once here, never by
// matching error text downstream.
type APIError struct {
	Status  int
	Timeout bool
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Transient reports whether rotating to another key is worth a retry:
// rate limits, rejected credentials, and timeouts.
func (e *APIError) Transient() bool {
	return e.Timeout || e.Status == http.StatusTooManyRequests || e.Status == http.StatusUnauthorized
}

// Client calls the external transcription API for one encoded chunk.
type Client interface {
	Transcribe(ctx context.Context, key, model string, wav []byte) ([]types.Segment, error)
}

// HTTPClient is the production client for Whisper-compatible segment
// endpoints.
type HTTPClient struct {
	url  string
	http *http.Client
}

func NewHTTPClient(apiURL string) *HTTPClient {
	return &HTTPClient{
		url:  apiURL,
		http: &http.Client{Timeout: 120 * time.Second},
	}
}

type segmentsResponse struct {
	Segments []types.Segment `json:"segments"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe posts one WAV chunk and returns its segments. The request is
// bound to ctx, so cancelling the job aborts the call at the transport layer.
func (c *HTTPClient) Transcribe(ctx context.Context, key, model string, wav []byte) ([]types.Segment, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, err
	}
	_ = w.WriteField("model", model)
	_ = w.WriteField("response_format", "verbose_json")
	_ = w.WriteField("prompt", transcriptionPrompt)
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var uerr *url.Error
		if errors.As(err, &uerr) && uerr.Timeout() {
			return nil, &APIError{Timeout: true, Message: "request timeout"}
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("Error %d", resp.StatusCode)
		var eresp errorResponse
		if json.Unmarshal(raw, &eresp) == nil && eresp.Error.Message != "" {
			msg += ": " + eresp.Error.Message
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}

	var out segmentsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	return out.Segments, nil
}
