package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"okanassist/internal/assist"
	"okanassist/internal/identity"
	"okanassist/internal/metrics"
)

func testServer() *Server {
	return &Server{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: metrics.Registry("test"),
	}
}

func TestWriteFailureStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"must register", identity.ErrMustRegister, 401, "must_register"},
		{"link failed", identity.ErrLinkFailed, 401, "link_failed"},
		{"insufficient credits", &assist.CreditError{Available: 2, Needed: 5}, 402, "insufficient_credits"},
		{"internal", errors.New("boom"), 500, "internal_error"},
	}

	s := testServer()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.writeFailure(rec, tc.err)

			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
			var resp apiResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if resp.Success {
				t.Fatal("failure responses must not claim success")
			}
			if resp.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, resp.Reason)
			}
		})
	}
}

func TestWriteFailureCreditDetails(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	s.writeFailure(rec, &assist.CreditError{Available: 2, Needed: 5})

	var resp struct {
		Data map[string]int `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Data["credits_available"] != 2 || resp.Data["credits_needed"] != 5 {
		t.Fatalf("expected credit details, got %+v", resp.Data)
	}
}
