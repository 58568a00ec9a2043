package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ClientError is the catch-all error of the client.
// Every failure other than a RequestFailedError is delivered as a ClientError;
// the cause, if any, is available through errors.Unwrap / errors.As.
type ClientError struct {
	Method string
	URL    string
	Err    error
}

func (e *ClientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("http client error: %s %s", e.Method, e.URL)
	}
	return fmt.Sprintf("http client error: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// ParseError means a response body could not be decoded into the expected shape.
// It carries the raw response.
type ParseError struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse response from %s (status %d): %v", e.URL, e.Status, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RequestFailedError means the server answered with a non-success status.
type RequestFailedError struct {
	URL    string
	Status int
	// Body is the JSON error body sent by the server, nil if the body was empty.
	Body json.RawMessage
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Status)
}

// DecodeBody decodes the error body into v.
func (e *RequestFailedError) DecodeBody(v any) error {
	if len(e.Body) == 0 {
		return fmt.Errorf("request to %s failed without an error body", e.URL)
	}
	return json.Unmarshal(e.Body, v)
}

// normalize passes RequestFailedError and ClientError through unchanged
// and wraps everything else in a ClientError.
func normalize(method, url string, err error) error {
	if err == nil {
		return nil
	}
	var failed *RequestFailedError
	if errors.As(err, &failed) {
		return failed
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}
	return &ClientError{Method: method, URL: url, Err: err}
}

// parseErrorBody leniently parses the body of a failed response.
// An empty body is accepted; anything that is not JSON is a parse error.
func parseErrorBody(url string, res *http.Response, body []byte) (json.RawMessage, error) {
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, &ParseError{
			URL:    url,
			Status: res.StatusCode,
			Header: res.Header,
			Body:   body,
			Err:    errors.New("error body is not valid JSON"),
		}
	}
	return json.RawMessage(body), nil
}
