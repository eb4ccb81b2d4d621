package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	agenterrors "github.com/vsingh18567/illuminate/internal/errors"
)

// mapHTTPError classifies a non-2xx response as transient or permanent.
func mapHTTPError(status int, body []byte, headers http.Header) error {
	detail := strings.TrimSpace(string(body))
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		detail = payload.Error.Message
	}
	if len(detail) > 500 {
		detail = detail[:500]
	}

	cause := fmt.Errorf("model API status %d: %s", status, detail)
	err := agenterrors.ClassifyHTTPStatus(status, cause, "")

	var transient *agenterrors.TransientError
	if errors.As(err, &transient) {
		if secs, convErr := strconv.Atoi(headers.Get("Retry-After")); convErr == nil && secs > 0 {
			transient.RetryAfter = secs
		}
	}
	return err
}

// wrapRequestError marks transport failures as transient unless the caller gave up.
func wrapRequestError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return agenterrors.NewTransientError(fmt.Errorf("model request: %w", err), "")
}
