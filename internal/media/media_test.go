package media

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
)

func TestKindFor(t *testing.T) {
	cases := []struct {
		mime string
		want Kind
	}{
		{"image/jpeg", KindImage},
		{"image/png", KindImage},
		{"video/mp4", KindVideo},
		{"video/webm", KindVideo},
		{"application/pdf", KindUnsupported},
		{"text/html", KindUnsupported},
		{"", KindUnsupported},
	}
	for _, tc := range cases {
		if got := KindFor(tc.mime); got != tc.want {
			t.Errorf("KindFor(%q) = %q, want %q", tc.mime, got, tc.want)
		}
	}
}

func TestFetch_UsesContentTypeHeader(t *testing.T) {
	body := []byte("fake-jpeg-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	defer srv.Close()

	p, err := NewFetcher(srv.Client(), 0).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.MIME != "image/jpeg" {
		t.Errorf("MIME = %q", p.MIME)
	}
	if string(p.Data) != string(body) {
		t.Errorf("data mismatch")
	}
}

func TestFetch_SniffsWhenHeaderGeneric(t *testing.T) {
	// real PNG magic so DetectContentType recognizes it
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(png)
	}))
	defer srv.Close()

	p, err := NewFetcher(srv.Client(), 0).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.MIME != "image/png" {
		t.Errorf("MIME = %q, want image/png", p.MIME)
	}
}

func TestFetch_404IsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.Client(), 0).Fetch(context.Background(), srv.URL)
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("err = %v, want not-found", err)
	}
}

func TestFetch_ServerErrorIsInternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.Client(), 0).Fetch(context.Background(), srv.URL)
	if !apperr.Is(err, apperr.CodeInternal) {
		t.Fatalf("err = %v, want internal", err)
	}
}

func TestFetch_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.Client(), 1024).Fetch(context.Background(), srv.URL)
	if !apperr.Is(err, apperr.CodeInternal) {
		t.Fatalf("err = %v, want internal", err)
	}
	if !strings.Contains(err.Error(), "limit") {
		t.Errorf("err = %v, want size limit message", err)
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFetcher(srv.Client(), 0).Fetch(ctx, srv.URL)
	if !apperr.Is(err, apperr.CodeInternal) {
		t.Fatalf("err = %v, want internal", err)
	}
}

func TestDataURI(t *testing.T) {
	p := &Payload{Data: []byte("hello"), MIME: "image/png"}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello"))
	if got := p.DataURI(); got != want {
		t.Errorf("DataURI = %q, want %q", got, want)
	}
}
