package stability

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestIsTransientError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &APIError{Status: 500}, true},
		{"bad gateway", &APIError{Status: 502}, true},
		{"rate limited", &APIError{Status: 429}, true},
		{"request timeout", &APIError{Status: 408}, true},
		{"bad request", &APIError{Status: 400}, false},
		{"unauthorized", &APIError{Status: 401}, false},
		{"content filtered", ErrContentFiltered, false},
		{"wrapped api error", fmt.Errorf("generate: %w", &APIError{Status: 503}), true},
		{"network", &net.DNSError{Err: "no such host"}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", fmt.Errorf("something else"), false},
	}
	for _, tc := range cases {
		if got := IsTransientError(tc.err); got != tc.want {
			t.Errorf("%s: IsTransientError = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFormatErrorForUser(t *testing.T) {
	if msg := FormatErrorForUser(ErrContentFiltered); !strings.Contains(msg, "content moderation") {
		t.Errorf("moderation message = %q", msg)
	}
	if msg := FormatErrorForUser(&APIError{Status: 503}); !strings.Contains(msg, "temporarily unavailable") {
		t.Errorf("transient message = %q", msg)
	}
	if msg := FormatErrorForUser(&APIError{Status: 400}); !strings.Contains(msg, "rejected") {
		t.Errorf("rejection message = %q", msg)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Op: "/v2beta/stable-image/generate/sd3", Status: 422, Body: "invalid prompt"}
	msg := err.Error()
	if !strings.Contains(msg, "422") || !strings.Contains(msg, "sd3") {
		t.Errorf("unhelpful error message: %q", msg)
	}
}
