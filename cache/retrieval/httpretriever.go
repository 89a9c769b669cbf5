package retrieval

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPRetriever implements Retriever for http:// and https:// addresses.
// Anything other than 200 OK is an error. Its connect and read timeouts
// are independent: a slow server is distinguishable from an unreachable
// one.
type HTTPRetriever struct {
	url            string
	connectTimeout time.Duration
	readTimeout    time.Duration
	client         *http.Client

	contentLength int64
	read          atomic.Int64
	buffer        []byte
	contentType   string
	expiration    int64
	state         State
}

// NewHTTPRetriever returns a Retriever for url using the given connect
// and read timeouts; non-positive values fall back to 8s and 5s.
func NewHTTPRetriever(url string, connectTimeout, readTimeout time.Duration) *HTTPRetriever {
	if connectTimeout <= 0 {
		connectTimeout = 8 * time.Second
	}
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: connectTimeout,
	}

	return &HTTPRetriever{
		url:            url,
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		client:         &http.Client{Transport: transport},
		contentLength:  -1,
		state:          StatePending,
	}
}

func (r *HTTPRetriever) Name() string { return r.url }

// Retrieve performs the HTTP GET, reading the body under readTimeout
// and cooperating with ctx cancellation at each read, so cancelling the
// task interrupts its I/O.
func (r *HTTPRetriever) Retrieve(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		r.state = StateError
		return err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			r.state = StateInterrupted
			return ctx.Err()
		}
		r.state = StateError
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.state = StateError
		return fmt.Errorf("retrieval: %s: unexpected status %s", r.url, resp.Status)
	}

	r.contentLength = resp.ContentLength
	r.contentType = resp.Header.Get("Content-Type")
	r.expiration = ExpirationFromHeaders(resp.Header, time.Now())

	readCtx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	buf, err := readAllWithContext(readCtx, resp.Body, &r.read)
	if err != nil {
		if readCtx.Err() != nil {
			r.state = StateInterrupted
		} else {
			r.state = StateError
		}
		return err
	}

	r.buffer = buf
	r.state = StateSuccessful
	return nil
}

// readAllWithContext reads all of rc, tracking bytes read in counter and
// aborting early if ctx is done.
func readAllWithContext(ctx context.Context, rc io.Reader, counter *atomic.Int64) ([]byte, error) {
	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		pr := &countingReader{r: rc, counter: counter}
		buf, err := io.ReadAll(pr)
		done <- result{buf, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.buf, res.err
	}
}

type countingReader struct {
	r       io.Reader
	counter *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.counter.Add(int64(n))
	return n, err
}

func (r *HTTPRetriever) Buffer() []byte           { return r.buffer }
func (r *HTTPRetriever) ContentType() string      { return r.contentType }
func (r *HTTPRetriever) ContentLength() int64     { return r.contentLength }
func (r *HTTPRetriever) ContentLengthRead() int64 { return r.read.Load() }
func (r *HTTPRetriever) Expiration() int64        { return r.expiration }
func (r *HTTPRetriever) State() State             { return r.state }
