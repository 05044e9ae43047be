package signer

import (
	"context"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/xerrors"
)

type fakePresign struct {
	lastInput *s3.GetObjectInput
	lastOpts  s3.PresignOptions
	url       string
	err       error
}

func (f *fakePresign) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.lastInput = in
	for _, fn := range optFns {
		fn(&f.lastOpts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: f.url}, nil
}

func TestSignedGetURL(t *testing.T) {
	fp := &fakePresign{url: "https://bucket.s3.example/media/key?sig=abc"}
	s := NewWithClient(fp, Config{Bucket: "media-bucket", TTL: 15 * time.Minute}, nil)

	url, err := s.SignedGetURL(context.Background(), "uploads/2026/video.mp4")
	if err != nil {
		t.Fatalf("SignedGetURL: %v", err)
	}
	if url != fp.url {
		t.Errorf("url = %q", url)
	}
	if got := *fp.lastInput.Bucket; got != "media-bucket" {
		t.Errorf("bucket = %q", got)
	}
	if got := *fp.lastInput.Key; got != "uploads/2026/video.mp4" {
		t.Errorf("key = %q", got)
	}
	if fp.lastOpts.Expires != 15*time.Minute {
		t.Errorf("expiry = %s, want 15m", fp.lastOpts.Expires)
	}
}

func TestSignedGetURL_EmptyKeyIsNotFound(t *testing.T) {
	fp := &fakePresign{url: "https://should-not-be-issued"}
	s := NewWithClient(fp, Config{Bucket: "media-bucket"}, nil)

	_, err := s.SignedGetURL(context.Background(), "")
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("err = %v, want not-found", err)
	}
	if fp.lastInput != nil {
		t.Error("presign called for empty storage key")
	}
}

func TestSignedGetURL_PresignFailureIsInternal(t *testing.T) {
	fp := &fakePresign{err: xerrors.New("credentials expired")}
	s := NewWithClient(fp, Config{Bucket: "media-bucket"}, nil)

	_, err := s.SignedGetURL(context.Background(), "some/key")
	if !apperr.Is(err, apperr.CodeInternal) {
		t.Fatalf("err = %v, want internal", err)
	}
}

func TestNewWithClient_DefaultTTL(t *testing.T) {
	s := NewWithClient(&fakePresign{}, Config{Bucket: "b"}, nil)
	if s.TTL() != 15*time.Minute {
		t.Errorf("default ttl = %s, want 15m", s.TTL())
	}
}
