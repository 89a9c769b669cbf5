package retrieval

import (
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
)

// NewRetrieverFor returns the Retriever matching address's scheme:
// http and https addresses get an HTTPRetriever with the given
// timeouts, s3 addresses get an S3Retriever on s3Client. An s3://
// address with no client configured, or a scheme with no transport, is
// an error.
func NewRetrieverFor(address string, s3Client *minio.Client, connectTimeout, readTimeout time.Duration) (Retriever, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("retrieval: invalid address %q: %w", address, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPRetriever(address, connectTimeout, readTimeout), nil
	case "s3":
		if s3Client == nil {
			return nil, fmt.Errorf("retrieval: %q requires an s3 client, and none is configured", address)
		}
		return NewS3Retriever(s3Client, address)
	default:
		return nil, fmt.Errorf("retrieval: no transport for scheme %q in %q", u.Scheme, address)
	}
}
