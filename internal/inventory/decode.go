package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of a failed response body is kept for logging.
const maxErrorBody = 300

// APIError is returned when the inventory service answers with a
// non-success status or a body that is not JSON.
type APIError struct {
	Op     string
	Status int
	Body   string
	Err    error // decode error, if the status was fine but the body was not
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inventory: %s: invalid response (status %d): %v: %s", e.Op, e.Status, e.Err, e.Body)
	}
	return fmt.Sprintf("inventory: %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// decode is the single place every inventory response passes through.
// A transport error, a non-2xx status, or an unparsable body all come back
// as an error naming op; an empty 2xx body yields the zero value.
func decode[T any](op string, resp *http.Response, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, fmt.Errorf("inventory: %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("inventory: %s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return zero, &APIError{Op: op, Status: resp.StatusCode, Body: truncate(body)}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return zero, nil
	}

	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return zero, &APIError{Op: op, Status: resp.StatusCode, Body: truncate(body), Err: err}
	}
	return out, nil
}

func truncate(body []byte) string {
	if len(body) <= maxErrorBody {
		return string(body)
	}
	return string(body[:maxErrorBody]) + "..."
}

// discard is the decode target for calls whose response body is ignored.
type discard = json.RawMessage
