package adapterutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
)

// ClassifyStatus maps a platform HTTP status to the error taxonomy. Expired or revoked
// credentials (401), throttling and server faults are recoverable by retry once the
// session is fixed; every other 4xx is a rejection of the payload itself.
func ClassifyStatus(op string, status int, detail string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	cause := fmt.Errorf("status %d: %s", status, strings.TrimSpace(detail))
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return apperr.New(apperr.KindChannelUnavailable, op, cause)
	case status >= 400:
		return apperr.New(apperr.KindInvalidPayload, op, cause)
	default:
		return apperr.New(apperr.KindChannelUnavailable, op, cause)
	}
}

// ClassifyTransport wraps a network-level failure as ChannelUnavailable. Already classified
// errors and context cancellation pass through unchanged.
func ClassifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.New(apperr.KindChannelUnavailable, op, err)
}
