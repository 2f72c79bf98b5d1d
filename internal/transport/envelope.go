package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMalformedResponse marks a response that reached us but does not
// match the envelope contract.
var ErrMalformedResponse = errors.New("malformed response")

// Request is the envelope every backend operation expects.
type Request struct {
	HTTPMethod string `json:"httpMethod"`
	Body       any    `json:"body"`
}

// Response is the envelope every backend operation returns. StatusCode
// is the application-level code embedded in the body, not the HTTP one.
type Response struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Error      []string        `json:"error"`
}

// OK reports whether the embedded status code signals success.
func (r Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Message returns the first non-blank backend error or fallback.
func (r Response) Message(fallback string) string {
	for _, msg := range r.Error {
		if msg = strings.TrimSpace(msg); msg != "" {
			return msg
		}
	}
	return fallback
}

// Decode unmarshals the data member into v.
func (r Response) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return fmt.Errorf("%w: data is missing", ErrMalformedResponse)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
