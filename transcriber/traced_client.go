package transcriber

import (
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// TracedClient wraps an http.Client and times the phases of each upload
// so it can be logged with network metrics.
type TracedClient struct {
	client *http.Client
}

func NewTracedClient() *TracedClient {
	return &TracedClient{
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Metrics    *NetworkMetrics
}

// uploadClock collects trace timestamps. The transport calls the hooks from
// its own reader and writer goroutines, so every field is guarded by mu.
type uploadClock struct {
	mu        sync.Mutex
	getConn   time.Time
	gotConn   time.Time
	wrote     time.Time
	firstByte time.Time
	reused    bool
}

func (u *uploadClock) mark(t *time.Time) {
	now := time.Now()
	u.mu.Lock()
	*t = now
	u.mu.Unlock()
}

func (u *uploadClock) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) { u.mark(&u.getConn) },
		GotConn: func(info httptrace.GotConnInfo) {
			u.mark(&u.gotConn)
			u.mu.Lock()
			u.reused = info.Reused
			u.mu.Unlock()
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { u.mark(&u.wrote) },
		GotFirstResponseByte: func() { u.mark(&u.firstByte) },
	}
}

// metrics converts the marks into phase durations, ending the download at done.
func (u *uploadClock) metrics(start, done time.Time) *NetworkMetrics {
	u.mu.Lock()
	defer u.mu.Unlock()
	return &NetworkMetrics{
		ConnWait:   span(u.getConn, u.gotConn),
		Upload:     span(u.gotConn, u.wrote),
		TTFB:       span(u.wrote, u.firstByte),
		Download:   span(u.firstByte, done),
		Total:      done.Sub(start),
		ConnReused: u.reused,
	}
}

// span is b-a, or 0 when either mark is missing or they arrived out of order
// (a server may answer before the body is fully written).
func span(a, b time.Time) time.Duration {
	if a.IsZero() || b.IsZero() || b.Before(a) {
		return 0
	}
	return b.Sub(a)
}

func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	clock := &uploadClock{}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), clock.trace()))
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Metrics:    clock.metrics(start, time.Now()),
	}, nil
}

// WarmConnection opens a connection to url ahead of the first upload so the
// upload itself can reuse it.
func (c *TracedClient) WarmConnection(url string) error {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
