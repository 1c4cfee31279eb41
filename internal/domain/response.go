package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
)

// Response is an HTTP-level answer from the remote service: status,
// headers and the raw body. It is the value type stored by the cache.
type Response struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body"`
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Clone returns a deep copy that shares no memory with r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := &Response{
		URL:        r.URL,
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
	}
	if r.Body != nil {
		c.Body = bytes.Clone(r.Body)
	}
	return c
}

// Empty reports whether the body carries no JSON value worth parsing.
func (r *Response) Empty() bool {
	return len(bytes.TrimSpace(r.Body)) == 0
}

// JSON decodes the body into v. Decoding failures are reported as *ParseError.
func (r *Response) JSON(identifier string, v any) error {
	if r.Empty() {
		return NewParseError(identifier, errEmptyBody)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return NewParseError(identifier, err)
	}
	return nil
}

var errEmptyBody = errors.New("empty response body")
