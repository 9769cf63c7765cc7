package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestHTTPClientParsesSegments checks the multipart form and response parsing.
func TestHTTPClientParsesSegments(t *testing.T) {
	var gotAuth, gotModel, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("form file: %v", err)
		}
		w.Write([]byte(`{"segments":[{"start":0,"end":1.5,"text":" hola "}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	segs, err := c.Transcribe(context.Background(), "secret-key", "whisper-large-v3", []byte("RIFF"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if gotAuth != "Bearer secret-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotModel != "whisper-large-v3" || gotFormat != "verbose_json" {
		t.Fatalf("model/format = %q/%q", gotModel, gotFormat)
	}
	if len(segs) != 1 || segs[0].End != 1.5 || segs[0].Text != " hola " {
		t.Fatalf("segments = %+v", segs)
	}
}

// TestHTTPClientClassifiesAPIError checks the error body message is surfaced
// on the typed error.
func TestHTTPClientClassifiesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit reached"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	_, err := c.Transcribe(context.Background(), "k", "m", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || !apiErr.Transient() {
		t.Fatalf("apiErr = %+v, want transient 429", apiErr)
	}
	if apiErr.Message != "Error 429: rate limit reached" {
		t.Fatalf("message = %q", apiErr.Message)
	}
}

// TestHTTPClientCancelledContext checks a dead context surfaces ctx.Err.
func TestHTTPClientCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewHTTPClient(srv.URL)
	_, err := c.Transcribe(ctx, "k", "m", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// TestAPIErrorTransient enumerates the rotation-worthy statuses.
func TestAPIErrorTransient(t *testing.T) {
	cases := []struct {
		e    APIError
		want bool
	}{
		{APIError{Status: 429}, true},
		{APIError{Status: 401}, true},
		{APIError{Timeout: true}, true},
		{APIError{Status: 500}, false},
		{APIError{Status: 400}, false},
	}
	for _, c := range cases {
		if got := c.e.Transient(); got != c.want {
			t.Fatalf("Transient(%+v) = %v, want %v", c.e, got, c.want)
		}
	}
}
