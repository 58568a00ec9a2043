package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type project struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func newTestClient(config Config) *Client {
	logger := zerolog.Nop()
	config.Logger = &logger
	return New(config)
}

type countingMetrics struct {
	completed atomic.Int32
	shared    atomic.Int32
	refreshes atomic.Int32
	failed    atomic.Int32
}

func (m *countingMetrics) RequestCompleted(method, outcome string, duration time.Duration) {
	m.completed.Add(1)
	if outcome == OutcomeFailed {
		m.failed.Add(1)
	}
}

func (m *countingMetrics) RequestShared() {
	m.shared.Add(1)
}

func (m *countingMetrics) RefreshIssued() {
	m.refreshes.Add(1)
}

func TestPipelineHeaders(t *testing.T) {
	var headers []http.Header
	var mutex sync.Mutex
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		headers = append(headers, r.Header.Clone())
		mutex.Unlock()
		w.Write([]byte(`{"id":"p1"}`))
	}))
	defer origin.Close()

	var tokenURL string
	c := newTestClient(Config{
		Tokens: TokenSourceFunc(func(ctx context.Context, url string) (string, error) {
			tokenURL = url
			return "secret", nil
		}),
	})

	_, err := Get[project](context.Background(), c, origin.URL+"/a", WithHeader("X-Extra", "1"))
	require.NoError(t, err)
	_, err = Post[project](context.Background(), c, origin.URL+"/b", project{ID: "p2"})
	require.NoError(t, err)

	require.Len(t, headers, 2)
	for _, h := range headers {
		assert.Equal(t, c.SessionID(), h.Get(SessionIdHeader))
		assert.Equal(t, "application/json", h.Get("Accept"))
		assert.Equal(t, "Bearer secret", h.Get("Authorization"))
	}
	assert.NotEmpty(t, c.SessionID())
	assert.Equal(t, "1", headers[0].Get("X-Extra"))
	assert.Equal(t, "application/json", headers[1].Get("Content-Type"))
	assert.Equal(t, origin.URL+"/b", tokenURL)
}

func TestSessionIdPerClient(t *testing.T) {
	assert.NotEqual(t, newTestClient(Config{}).SessionID(), newTestClient(Config{}).SessionID())
}

func TestPipelineDoesNotMutateCallerHeader(t *testing.T) {
	c := newTestClient(Config{Tokens: StaticToken("t")})
	header := http.Header{"X-Extra": []string{"1"}}
	init := newRequestInit(http.MethodGet, header, nil)

	out, err := c.transformRequest(context.Background(), "http://example.com", init)
	require.NoError(t, err)

	assert.Equal(t, "Bearer t", out.header.Get("Authorization"))
	assert.Empty(t, init.header.Get("Authorization"))
	assert.Equal(t, http.Header{"X-Extra": []string{"1"}}, header)
}

func TestConcurrentGetsShareOneRequest(t *testing.T) {
	var hits atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}
		<-release
		w.Write([]byte(`{"id":"p1","title":"Tower"}`))
	}))
	defer origin.Close()

	metrics := &countingMetrics{}
	c := newTestClient(Config{Metrics: metrics})
	url := origin.URL + "/projects/p1"

	const callers = 5
	results := make([]*Response[project], callers)
	var wg sync.WaitGroup
	get := func(i int) {
		defer wg.Done()
		res, err := Get[project](context.Background(), c, url)
		assert.NoError(t, err)
		results[i] = res
	}

	wg.Add(1)
	go get(0)
	<-started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go get(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(callers), metrics.shared.Load())
	require.NotNil(t, results[0])
	for _, res := range results[1:] {
		assert.Same(t, results[0], res)
	}
	assert.Equal(t, "Tower", results[0].Data.Title)
}

func TestGetAfterSettleIssuesNewRequest(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"id":"p1"}`))
	}))
	defer origin.Close()
	c := newTestClient(Config{})

	first, err := Get[project](context.Background(), c, origin.URL)
	require.NoError(t, err)
	second, err := Get[project](context.Background(), c, origin.URL)
	require.NoError(t, err)

	assert.Equal(t, int32(2), hits.Load())
	assert.NotSame(t, first, second)
}

func TestPostIsNotDeduplicated(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer origin.Close()
	c := newTestClient(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := Post[project](context.Background(), c, origin.URL, project{ID: "p1"})
			assert.NoError(t, err)
			if res != nil {
				assert.Equal(t, "p1", res.Data.ID)
			}
		}()
	}
	require.Eventually(t, func() bool { return hits.Load() == 3 }, time.Second, 10*time.Millisecond)
	close(release)
	wg.Wait()
}

func TestDedupKeyOverridesURL(t *testing.T) {
	var hits atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}
		<-release
		w.Write([]byte(`{"id":"p1"}`))
	}))
	defer origin.Close()
	c := newTestClient(Config{})
	key := RequestKey(http.MethodGet, "projects", nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := Get[project](context.Background(), c, origin.URL+"/a", WithDedupKey(key))
		assert.NoError(t, err)
	}()
	<-started
	go func() {
		defer wg.Done()
		_, err := Get[project](context.Background(), c, origin.URL+"/b", WithDedupKey(key))
		assert.NoError(t, err)
	}()
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
}

func TestSharedResponseDecodesPerType(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"p1","title":"Tower"}`))
	}))
	defer origin.Close()
	c := newTestClient(Config{})

	res, err := Get[map[string]any](context.Background(), c, origin.URL)
	require.NoError(t, err)
	assert.Equal(t, "Tower", res.Data["title"])
	assert.Equal(t, res.Data, res.Payload())
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestRefreshableResponse(t *testing.T) {
	var refreshHeaders []string
	var mutex sync.Mutex
	router := chi.NewRouter()
	router.Get("/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		refreshHeaders = append(refreshHeaders, r.Header.Get(RefreshHeader))
		mutex.Unlock()
		if r.Header.Get(RefreshHeader) == "" {
			w.Header().Set(IsRefreshableHeader, "true")
			w.Write([]byte(`{"id":"p1","title":"stale"}`))
			return
		}
		w.Write([]byte(`{"id":"p1","title":"fresh"}`))
	})
	origin := httptest.NewServer(router)
	defer origin.Close()

	metrics := &countingMetrics{}
	c := newTestClient(Config{Metrics: metrics})
	defer c.Close()

	res, err := Get[project](context.Background(), c, origin.URL+"/projects/p1")
	require.NoError(t, err)
	assert.Equal(t, "stale", res.Data.Title)
	require.NotNil(t, res.Refresh)

	refreshed, err := res.Refresh.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", refreshed.Data.Title)
	assert.Nil(t, refreshed.Refresh)

	again, err := res.Refresh.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, refreshed, again)

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, []string{"", "application/json"}, refreshHeaders)
	assert.Equal(t, int32(1), metrics.refreshes.Load())
}

func TestNonRefreshableResponseHasNoRefresh(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"p1"}`))
	}))
	defer origin.Close()
	c := newTestClient(Config{})

	res, err := Get[project](context.Background(), c, origin.URL)
	require.NoError(t, err)
	assert.Nil(t, res.Refresh)
}

func TestRefreshChainIsCappedByMaxDepth(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set(IsRefreshableHeader, "1")
		w.Write([]byte(`{"id":"p1"}`))
	}))
	defer origin.Close()
	c := newTestClient(Config{MaxRefreshDepth: 2})

	res, err := Get[project](context.Background(), c, origin.URL)
	require.NoError(t, err)

	hops := 0
	for res.Refresh != nil {
		res, err = res.Refresh.Wait(context.Background())
		require.NoError(t, err)
		hops++
	}
	c.Close()

	assert.Equal(t, 2, hops)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClosedClientStartsNoRefresh(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(IsRefreshableHeader, "1")
		w.Write([]byte(`{"id":"p1"}`))
	}))
	defer origin.Close()
	c := newTestClient(Config{})
	c.Close()

	res, err := Get[project](context.Background(), c, origin.URL)
	require.NoError(t, err)
	assert.Nil(t, res.Refresh)
}

func TestRequestFailedKeepsStatusAndBody(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such project"}`))
	}))
	defer origin.Close()
	metrics := &countingMetrics{}
	c := newTestClient(Config{Metrics: metrics})

	_, err := Get[project](context.Background(), c, origin.URL+"/projects/x")

	var failed *RequestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, http.StatusNotFound, failed.Status)
	assert.Equal(t, origin.URL+"/projects/x", failed.URL)
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, failed.DecodeBody(&body))
	assert.Equal(t, "no such project", body.Message)

	var clientErr *ClientError
	assert.False(t, errors.As(err, &clientErr))
	assert.Equal(t, int32(1), metrics.failed.Load())
}

func TestRequestFailedWithEmptyBody(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer origin.Close()
	c := newTestClient(Config{})

	_, err := Put[project](context.Background(), c, origin.URL, project{})

	var failed *RequestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, http.StatusForbidden, failed.Status)
	assert.Nil(t, failed.Body)
	assert.Error(t, failed.DecodeBody(&struct{}{}))
}

func TestUnparseableErrorBodyIsParseError(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer origin.Close()
	c := newTestClient(Config{})

	_, err := Get[project](context.Background(), c, origin.URL)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, http.StatusBadGateway, parseErr.Status)
	assert.Equal(t, "<html>bad gateway</html>", string(parseErr.Body))
	var failed *RequestFailedError
	assert.False(t, errors.As(err, &failed))
}

func TestUnparseableBodyIsParseError(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Trace", "abc")
		w.Write([]byte(`{"id": 42}`))
	}))
	defer origin.Close()
	c := newTestClient(Config{})

	_, err := Get[project](context.Background(), c, origin.URL)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, `{"id": 42}`, string(parseErr.Body))
	assert.Equal(t, "abc", parseErr.Header.Get("X-Trace"))
	var typeErr *json.UnmarshalTypeError
	assert.ErrorAs(t, err, &typeErr)
}

func TestTokenFailureIsClientError(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer origin.Close()
	errNoToken := errors.New("not signed in")
	c := newTestClient(Config{
		Tokens: TokenSourceFunc(func(ctx context.Context, url string) (string, error) {
			return "", errNoToken
		}),
	})

	_, err := Get[project](context.Background(), c, origin.URL)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.MethodGet, clientErr.Method)
	assert.ErrorIs(t, err, errNoToken)
	assert.Equal(t, int32(0), hits.Load())
}

func TestNetworkFailureIsClientError(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	url := origin.URL
	origin.Close()
	c := newTestClient(Config{})

	_, err := Get[project](context.Background(), c, url)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, url, clientErr.URL)
}

func TestPanicIsClientError(t *testing.T) {
	c := newTestClient(Config{
		Tokens: TokenSourceFunc(func(ctx context.Context, url string) (string, error) {
			panic("token cache corrupted")
		}),
	})

	_, err := Get[project](context.Background(), c, "http://127.0.0.1:1")

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Contains(t, err.Error(), "token cache corrupted")
}

func TestCancelledCallerDoesNotCancelRequest(t *testing.T) {
	hit := make(chan struct{})
	release := make(chan struct{})
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(hit)
		<-release
		w.Write([]byte(`{"id":"p1"}`))
	}))
	defer origin.Close()
	defer close(release)
	c := newTestClient(Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Get[project](ctx, c, origin.URL)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.ErrorIs(t, err, context.Canceled)
	select {
	case <-hit:
	case <-time.After(time.Second):
		t.Fatal("request was not sent")
	}
}

func TestRequestKey(t *testing.T) {
	assert.Equal(t, "GET:/projects", RequestKey(http.MethodGet, "/projects", nil))
	a := RequestKey(http.MethodPost, "/search", []byte(`{"q":"a"}`))
	b := RequestKey(http.MethodPost, "/search", []byte(`{"q":"b"}`))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, RequestKey(http.MethodPost, "/search", []byte(`{"q":"a"}`)))
}
