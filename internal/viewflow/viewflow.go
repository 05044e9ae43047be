// Package viewflow runs the content view pipeline: verify the session,
// check policy, resolve a signed URL, fetch the object, watermark it per
// viewer, and hand back the deliverable. The request walks the stages in
// order and stops at the first failure. No stage retries.
package viewflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/privatechat-app/privatechat-server/internal/apperr"
	"github.com/privatechat-app/privatechat-server/internal/log"
	"github.com/privatechat-app/privatechat-server/internal/media"
	"github.com/privatechat-app/privatechat-server/internal/session"
	"github.com/privatechat-app/privatechat-server/internal/store"
)

// Stage names, in pipeline order.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageVerifying    Stage = "verifying"
	StageAuthorizing  Stage = "authorizing"
	StageResolving    Stage = "resolving"
	StageFetching     Stage = "fetching"
	StageWatermarking Stage = "watermarking"
	StageReady        Stage = "ready"
	StageFailed       Stage = "failed"
)

// Per-stage deadlines. The watermark stage deadline lives inside the
// genmedia client, which owns its model timeout.
const (
	resolveTimeout = 10 * time.Second
	fetchTimeout   = 60 * time.Second
)

type Authorizer interface {
	AuthorizeView(ctx context.Context, caller session.Identity, contentID uuid.UUID) error
}

type ContentStore interface {
	ByID(ctx context.Context, id uuid.UUID) (*store.Content, error)
}

type URLSigner interface {
	SignedGetURL(ctx context.Context, storageKey string) (string, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*media.Payload, error)
}

type Watermarker interface {
	Watermark(ctx context.Context, p *media.Payload, viewerName string, at time.Time) (*media.Payload, error)
}

// Metrics is the slice of server metrics the pipeline reports to.
type Metrics interface {
	IncViewCompleted()
	IncViewFailure(stage, kind string)
	ObserveViewStage(stage string, seconds float64)
}

// Result is the deliverable of a completed pipeline run.
type Result struct {
	Payload       *media.Payload
	Kind          media.Kind
	WatermarkedAt time.Time
}

// Failure carries the stage that failed alongside the typed error.
type Failure struct {
	Stage Stage
	Err   error
}

func (f *Failure) Error() string { return string(f.Stage) + ": " + f.Err.Error() }
func (f *Failure) Unwrap() error { return f.Err }

type Pipeline struct {
	authz       Authorizer
	content     ContentStore
	signer      URLSigner
	fetcher     Fetcher
	watermarker Watermarker
	metrics     Metrics
	now         func() time.Time
}

func New(authz Authorizer, content ContentStore, signer URLSigner, fetcher Fetcher, watermarker Watermarker, metrics Metrics) *Pipeline {
	return &Pipeline{
		authz:       authz,
		content:     content,
		signer:      signer,
		fetcher:     fetcher,
		watermarker: watermarker,
		metrics:     metrics,
		now:         time.Now,
	}
}

// View runs the pipeline for one request. The session cookie has already
// been parsed by the session middleware; an absent identity fails the
// verifying stage, before any policy or storage work.
func (p *Pipeline) View(ctx context.Context, contentID uuid.UUID) (*Result, error) {
	L := log.FromContext(ctx).With("content_id", contentID.String())

	// Verifying
	stageStart := p.stageEnter(ctx, L, StageVerifying)
	caller, ok := session.IdentityFromContext(ctx)
	if !ok {
		return nil, p.fail(ctx, L, StageVerifying, stageStart,
			apperr.New(apperr.CodeUnauthenticated, "sign in to view content"))
	}
	p.stageDone(StageVerifying, stageStart)

	// Authorizing
	stageStart = p.stageEnter(ctx, L, StageAuthorizing)
	if err := p.authz.AuthorizeView(ctx, caller, contentID); err != nil {
		return nil, p.fail(ctx, L, StageAuthorizing, stageStart, err)
	}
	p.stageDone(StageAuthorizing, stageStart)

	// Resolving: content row, storage pointer, signed URL. An empty
	// storage pointer is not-found before any presign call.
	stageStart = p.stageEnter(ctx, L, StageResolving)
	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	item, err := p.content.ByID(rctx, contentID)
	if err != nil {
		cancel()
		return nil, p.fail(ctx, L, StageResolving, stageStart, err)
	}
	if item.StorageKey == "" {
		cancel()
		return nil, p.fail(ctx, L, StageResolving, stageStart,
			apperr.New(apperr.CodeNotFound, "content has no media"))
	}
	url, err := p.signer.SignedGetURL(rctx, item.StorageKey)
	cancel()
	if err != nil {
		return nil, p.fail(ctx, L, StageResolving, stageStart, err)
	}
	p.stageDone(StageResolving, stageStart)

	// Fetching: single attempt.
	stageStart = p.stageEnter(ctx, L, StageFetching)
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	payload, err := p.fetcher.Fetch(fctx, url)
	cancel()
	if err != nil {
		return nil, p.fail(ctx, L, StageFetching, stageStart, err)
	}
	p.stageDone(StageFetching, stageStart)

	// Watermarking: the model output is the artifact that ships.
	stageStart = p.stageEnter(ctx, L, StageWatermarking)
	watermarkedAt := p.now().UTC()
	stamped, err := p.watermarker.Watermark(ctx, payload, caller.Name, watermarkedAt)
	if err != nil {
		return nil, p.fail(ctx, L, StageWatermarking, stageStart, err)
	}
	p.stageDone(StageWatermarking, stageStart)

	if p.metrics != nil {
		p.metrics.IncViewCompleted()
	}
	L.Info(ctx, "content view ready",
		"media_kind", string(media.KindFor(stamped.MIME)),
		"viewer", caller.Handle,
	)

	return &Result{
		Payload:       stamped,
		Kind:          media.KindFor(stamped.MIME),
		WatermarkedAt: watermarkedAt,
	}, nil
}

func (p *Pipeline) stageEnter(ctx context.Context, L log.Logger, s Stage) time.Time {
	L.Debug(ctx, "view stage", "stage", string(s))
	return time.Now()
}

func (p *Pipeline) stageDone(s Stage, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveViewStage(string(s), time.Since(start).Seconds())
	}
}

func (p *Pipeline) fail(ctx context.Context, L log.Logger, s Stage, start time.Time, err error) error {
	p.stageDone(s, start)
	if p.metrics != nil {
		p.metrics.IncViewFailure(string(s), string(apperr.CodeOf(err)))
	}
	if apperr.CodeOf(err) == apperr.CodeInternal {
		L.Error(ctx, err, "view stage failed", "stage", string(s))
	} else {
		L.Info(ctx, "view denied", "stage", string(s), "kind", string(apperr.CodeOf(err)))
	}
	return &Failure{Stage: s, Err: err}
}
