// Package media fetches a media object over HTTP and carries it in memory
// as a MIME-tagged payload. One attempt per view; retry policy is "none"
// all the way down the pipeline.
package media

import (
	"context"
	"encoding/base64"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
)

// DefaultMaxBytes caps a fetched object. Watermarking runs in memory, so
// this bounds per-request memory too.
const DefaultMaxBytes = 50 << 20

// Payload is an in-memory media object.
type Payload struct {
	Data []byte
	MIME string
}

// DataURI encodes the payload the way the generative service and the web
// client both consume it.
func (p *Payload) DataURI() string {
	return "data:" + p.MIME + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// Kind buckets a MIME type for the client's render decision.
type Kind string

const (
	KindImage       Kind = "image"
	KindVideo       Kind = "video"
	KindUnsupported Kind = "unsupported"
)

func KindFor(mimeType string) Kind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	default:
		return KindUnsupported
	}
}

type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(client *http.Client, maxBytes int64) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{client: client, maxBytes: maxBytes}
}

// Fetch downloads the object behind a (typically presigned) URL. The MIME
// type comes from the response header, sniffed from the bytes when the
// header is missing or generic.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Internal(err, "build fetch request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperr.Internal(err, "fetch media")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.New(apperr.CodeNotFound, "media object missing from storage")
	case resp.StatusCode != http.StatusOK:
		return nil, apperr.Newf(apperr.CodeInternal, "storage returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, apperr.Internal(err, "read media body")
	}
	if int64(len(data)) > f.maxBytes {
		return nil, apperr.Newf(apperr.CodeInternal, "media exceeds %d byte limit", f.maxBytes)
	}

	return &Payload{Data: data, MIME: mimeOf(resp.Header.Get("Content-Type"), data)}, nil
}

func mimeOf(contentType string, data []byte) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil &&
			mt != "application/octet-stream" && mt != "binary/octet-stream" {
			return mt
		}
	}
	return http.DetectContentType(data)
}
