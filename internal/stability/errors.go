package stability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrContentFiltered marks results rejected by the API's moderation
// layer. Never retried.
var ErrContentFiltered = errors.New("request flagged by content moderation")

// APIError is a non-2xx response from the image API.
type APIError struct {
	Op     string // endpoint path
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stability %s: status %d: %s", e.Op, e.Status, e.Body)
}

// IsTransientError reports whether an error is worth retrying:
// network-level failures and server-side statuses. Client errors and
// moderation rejections are permanent.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContentFiltered) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == 429 || apiErr.Status == 408
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

// FormatErrorForUser returns a user-friendly message for a failed
// generation.
func FormatErrorForUser(err error) string {
	if errors.Is(err, ErrContentFiltered) {
		return "Your request was flagged by the content moderation system. Please adjust your prompt and try again."
	}
	if IsTransientError(err) {
		return "The image service is temporarily unavailable. Please try again later."
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return "The image service rejected your request. Please adjust your input and try again."
	}
	return "Image generation failed. Please try again."
}
