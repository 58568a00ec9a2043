package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"sync"
)

const (
	IsRefreshableHeader = "X-Pp-Is-Refreshable"
)

// Response is a successful response decoded into T.
type Response[T any] struct {
	Data   T
	Status int
	Header http.Header
	// Refresh is non-nil if the server marked the response as refreshable.
	// It resolves to a second, fresher response fetched in the background.
	Refresh *Refresh[T]
}

// Payload returns the decoded data.
func (r *Response[T]) Payload() any {
	return r.Data
}

// Headers returns the response headers.
func (r *Response[T]) Headers() http.Header {
	return r.Header
}

// Refresh is the pending result of a background refresh request.
type Refresh[T any] struct {
	f *future
}

// Done is closed when the refresh request has completed.
func (r *Refresh[T]) Done() <-chan struct{} {
	return r.f.done
}

// Wait blocks until the refresh request has completed or ctx is done.
// Calling Wait more than once returns the same response.
// The refreshed response may itself carry a Refresh.
func (r *Refresh[T]) Wait(ctx context.Context) (*Response[T], error) {
	select {
	case <-ctx.Done():
		return nil, &ClientError{Method: r.f.method, URL: r.f.url, Err: ctx.Err()}
	case <-r.f.done:
	}
	if r.f.err != nil {
		return nil, r.f.err
	}
	return typedResponse[T](r.f.ex)
}

// exchange is a completed network round trip with a success status.
// It is shared between all callers of a deduplicated request; each
// requested type T is decoded once and the result is reused.
type exchange struct {
	method  string
	url     string
	status  int
	header  http.Header
	body    []byte
	refresh *future

	mutex sync.Mutex
	typed map[reflect.Type]any
}

// future is an exchange that is still being fetched.
type future struct {
	method string
	url    string
	done   chan struct{}
	ex     *exchange
	err    error
}

// typedResponse decodes the exchange body into T, reusing an earlier
// decoding into the same type.
func typedResponse[T any](ex *exchange) (*Response[T], error) {
	ex.mutex.Lock()
	defer ex.mutex.Unlock()

	key := reflect.TypeOf((*T)(nil)).Elem()
	if res, ok := ex.typed[key]; ok {
		return res.(*Response[T]), nil
	}

	var data T
	if err := json.Unmarshal(ex.body, &data); err != nil {
		return nil, &ClientError{
			Method: ex.method,
			URL:    ex.url,
			Err: &ParseError{
				URL:    ex.url,
				Status: ex.status,
				Header: ex.header,
				Body:   ex.body,
				Err:    err,
			},
		}
	}
	res := &Response[T]{
		Data:   data,
		Status: ex.status,
		Header: ex.header,
	}
	if ex.refresh != nil {
		res.Refresh = &Refresh[T]{f: ex.refresh}
	}
	if ex.typed == nil {
		ex.typed = make(map[reflect.Type]any)
	}
	ex.typed[key] = res
	return res, nil
}

func isRefreshable(header http.Header) bool {
	_, ok := header[http.CanonicalHeaderKey(IsRefreshableHeader)]
	return ok
}
