package retrieval

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
)

// S3Retriever implements Retriever for s3:// addresses: an address of
// the form "s3://bucket/key" is resolved against a minio.Client
// configured by the caller, for deployments whose tile sets live in an
// object store rather than behind an HTTP server.
type S3Retriever struct {
	rawURL string
	bucket string
	key    string
	client *minio.Client

	contentLength int64
	read          atomic.Int64
	buffer        []byte
	contentType   string
	expiration    int64
	state         State
}

// NewS3Retriever returns a Retriever for an "s3://bucket/key" address,
// using client to talk to the object store. It returns an error if
// rawURL is not a well-formed s3:// address.
func NewS3Retriever(client *minio.Client, rawURL string) (*S3Retriever, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("retrieval: invalid s3 address %q: %w", rawURL, err)
	}
	if u.Scheme != "s3" {
		return nil, fmt.Errorf("retrieval: not an s3:// address: %q", rawURL)
	}
	return &S3Retriever{
		rawURL:        rawURL,
		bucket:        u.Host,
		key:           strings.TrimPrefix(u.Path, "/"),
		client:        client,
		contentLength: -1,
		state:         StatePending,
	}, nil
}

func (r *S3Retriever) Name() string { return r.rawURL }

// Retrieve fetches the object. Object stores don't send
// Cache-Control/Expires, so dispatch here is simply "success iff the
// object exists and its body is readable".
func (r *S3Retriever) Retrieve(ctx context.Context) error {
	obj, err := r.client.GetObject(ctx, r.bucket, r.key, minio.GetObjectOptions{})
	if err != nil {
		r.state = StateError
		return err
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		r.state = StateError
		return err
	}
	r.contentLength = info.Size
	r.contentType = info.ContentType
	if !info.Expires.IsZero() {
		r.expiration = info.Expires.UnixNano() / int64(time.Millisecond)
	}

	buf, err := readAllWithContext(ctx, obj, &r.read)
	if err != nil {
		if ctx.Err() != nil {
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

var _ io.Reader = (*minio.Object)(nil)

func (r *S3Retriever) Buffer() []byte           { return r.buffer }
func (r *S3Retriever) ContentType() string      { return r.contentType }
func (r *S3Retriever) ContentLength() int64     { return r.contentLength }
func (r *S3Retriever) ContentLengthRead() int64 { return r.read.Load() }
func (r *S3Retriever) Expiration() int64        { return r.expiration }
func (r *S3Retriever) State() State             { return r.state }
