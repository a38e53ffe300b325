package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/heimdex/heimdex-backend/internal/data/repos/testutil"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	perrors "github.com/heimdex/heimdex-backend/internal/pkg/errors"
)

func TestHandleVideoSuccess(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusPending)
	run, task := fx.seedRun(t, tenant.ID, &video.ID, nil, types.JobKindIngest)

	builder := &fakeBuilder{}
	h := fx.handlers(func(d *Deps) { d.Builder = builder })

	if err := h.handleVideo(ctx, task); err != nil {
		t.Fatalf("handleVideo: %v", err)
	}

	if builder.processed() != 1 {
		t.Errorf("builder ran %d times, want 1", builder.processed())
	}
	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusSucceeded {
		t.Errorf("status = %q, want SUCCEEDED", stored.Status)
	}
	if stored.Progress != 100 {
		t.Errorf("progress = %d, want 100", stored.Progress)
	}
	if stored.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", stored.Attempts)
	}
	if stored.StartedAt == nil || stored.FinishedAt == nil {
		t.Error("started_at/finished_at not set")
	}
	if !fx.bus.hasKind(types.JobEventSucceeded) {
		t.Errorf("bus kinds = %v, want succeeded event", fx.bus.kinds())
	}
}

func TestHandleVideoAcksCanceledRow(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusPending)
	run, task := fx.seedRun(t, tenant.ID, &video.ID, nil, types.JobKindIngest)
	if err := fx.jobs.UpdateFields(ctx, nil, run.ID, map[string]interface{}{
		"status": types.JobStatusCanceled,
	}); err != nil {
		t.Fatalf("cancel run: %v", err)
	}

	builder := &fakeBuilder{}
	h := fx.handlers(func(d *Deps) { d.Builder = builder })

	if err := h.handleVideo(ctx, task); err != nil {
		t.Fatalf("handleVideo = %v, want nil ack", err)
	}
	if builder.processed() != 0 {
		t.Error("builder ran for a canceled run")
	}
	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusCanceled {
		t.Errorf("status = %q, want CANCELED preserved", stored.Status)
	}
}

func TestHandleVideoAcksMissingRow(t *testing.T) {
	fx := newJobsFixture(t)
	tenant := fx.seedTenant(t)

	videoID := uuid.New()
	p := Payload{JobID: uuid.New(), TenantID: tenant.ID, VideoID: &videoID, Kind: types.JobKindIngest}
	raw, _ := json.Marshal(p)
	builder := &fakeBuilder{}
	h := fx.handlers(func(d *Deps) { d.Builder = builder })

	if err := h.handleVideo(context.Background(), asynq.NewTask(TaskVideoIngest, raw)); err != nil {
		t.Fatalf("handleVideo = %v, want nil ack", err)
	}
	if builder.processed() != 0 {
		t.Error("builder ran without a job row")
	}
}

func TestHandleVideoPoisonPayloadSkipsRetry(t *testing.T) {
	fx := newJobsFixture(t)
	h := fx.handlers(func(d *Deps) { d.Builder = &fakeBuilder{} })

	err := h.handleVideo(context.Background(), asynq.NewTask(TaskVideoIngest, []byte("{nope")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("err = %v, want SkipRetry", err)
	}
}

func TestHandleVideoPermanentFailure(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusPending)
	run, task := fx.seedRun(t, tenant.ID, &video.ID, nil, types.JobKindIngest)

	builder := &fakeBuilder{err: perrors.Permanentf("unsupported codec")}
	h := fx.handlers(func(d *Deps) { d.Builder = builder })

	err := h.handleVideo(ctx, task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry wrap", err)
	}

	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusFailed {
		t.Errorf("status = %q, want FAILED", stored.Status)
	}
	if !strings.Contains(stored.Error, "unsupported codec") {
		t.Errorf("error = %q, want codec message", stored.Error)
	}
	if stored.LastErrorAt == nil || stored.FinishedAt == nil {
		t.Error("failure timestamps not set")
	}
	if !fx.bus.hasKind(types.JobEventFailed) {
		t.Errorf("bus kinds = %v, want failed event", fx.bus.kinds())
	}
}

func TestHandleVideoTransientFailureRequeues(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusPending)
	run, task := fx.seedRun(t, tenant.ID, &video.ID, nil, types.JobKindIngest)

	builder := &fakeBuilder{err: perrors.Transientf("whisper 503")}
	h := fx.handlers(func(d *Deps) { d.Builder = builder })

	err := h.handleVideo(ctx, task)
	if err == nil {
		t.Fatal("expected error so the broker retries")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Errorf("err = %v, transient failure must not skip retry", err)
	}

	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusQueued {
		t.Errorf("status = %q, want QUEUED for retry", stored.Status)
	}
	if !strings.Contains(stored.Error, "whisper 503") {
		t.Errorf("error = %q, want transient message", stored.Error)
	}
}

func TestHandleVideoCanceledMidFlight(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusPending)
	run, task := fx.seedRun(t, tenant.ID, &video.ID, nil, types.JobKindIngest)

	builder := &fakeBuilder{err: context.Canceled}
	h := fx.handlers(func(d *Deps) { d.Builder = builder })

	if err := h.handleVideo(ctx, task); err != nil {
		t.Fatalf("handleVideo = %v, cancellation must ack", err)
	}

	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusCanceled {
		t.Errorf("status = %q, want CANCELED", stored.Status)
	}
	if !fx.bus.hasKind(types.JobEventCanceled) {
		t.Errorf("bus kinds = %v, want canceled event", fx.bus.kinds())
	}
}

func TestHandleVideoPanicFailsPermanently(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusPending)
	run, task := fx.seedRun(t, tenant.ID, &video.ID, nil, types.JobKindIngest)

	builder := &fakeBuilder{fn: func(ctx context.Context, tenantID, videoID uuid.UUID) error {
		panic("nil keyframe")
	}}
	h := fx.handlers(func(d *Deps) { d.Builder = builder })

	err := h.handleVideo(ctx, task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry wrap", err)
	}
	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusFailed {
		t.Errorf("status = %q, want FAILED", stored.Status)
	}
	if !strings.Contains(stored.Error, "panic") {
		t.Errorf("error = %q, want panic message", stored.Error)
	}
}

func TestHandleExportWritesSidecarArtifact(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusReady)
	testutil.SeedScene(t, ctx, fx.db, tenant.ID, video.ID, 0, 0, 6)
	testutil.SeedScene(t, ctx, fx.db, tenant.ID, video.ID, 1, 6, 10)
	run, task := fx.seedRun(t, tenant.ID, &video.ID, nil, types.JobKindExport)

	store := &fakeObjectStore{}
	h := fx.handlers(func(d *Deps) { d.Store = store })

	if err := h.handleExport(ctx, task); err != nil {
		t.Fatalf("handleExport: %v", err)
	}

	key := exportKey(tenant.ID.String(), video.ID.String())
	raw, ok := store.object(key)
	if !ok {
		t.Fatalf("no artifact at %q", key)
	}
	var artifact sidecarExport
	if err := json.Unmarshal(raw, &artifact); err != nil {
		t.Fatalf("unmarshal artifact: %v", err)
	}
	if artifact.Version != "v1" {
		t.Errorf("version = %q, want v1", artifact.Version)
	}
	if artifact.SceneCount != 2 || len(artifact.Scenes) != 2 {
		t.Errorf("scenes = (%d, %d), want (2, 2)", artifact.SceneCount, len(artifact.Scenes))
	}
	if artifact.Video == nil || artifact.Video.ID != video.ID {
		t.Error("artifact missing video row")
	}

	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusSucceeded {
		t.Errorf("status = %q, want SUCCEEDED", stored.Status)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(stored.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["export_key"] != key {
		t.Errorf("result export_key = %v, want %q", result["export_key"], key)
	}
	if result["scene_count"] != float64(2) {
		t.Errorf("result scene_count = %v, want 2", result["scene_count"])
	}
}

func TestHandleExportUploadFailureIsTransient(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusReady)
	run, task := fx.seedRun(t, tenant.ID, &video.ID, nil, types.JobKindExport)

	store := &fakeObjectStore{upErr: errors.New("gcs 503")}
	h := fx.handlers(func(d *Deps) { d.Store = store })

	err := h.handleExport(ctx, task)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want retryable failure", err)
	}
	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusQueued {
		t.Errorf("status = %q, want QUEUED for retry", stored.Status)
	}
}

func TestHandlePersonPhotoEmbedsAndMarksReady(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	person := testutil.SeedPerson(t, ctx, fx.db, tenant.ID, "Maya", types.PersonStatusPending)
	photoKey := tenant.ID.String() + "/persons/" + person.ID.String() + "/photo.jpg"
	if err := fx.persons.UpdateFields(ctx, nil, person.ID, map[string]interface{}{
		"photo_key": photoKey,
	}); err != nil {
		t.Fatalf("set photo key: %v", err)
	}
	run, task := fx.seedRun(t, tenant.ID, nil, &person.ID, types.JobKindPersonPhoto)

	store := &fakeObjectStore{objects: map[string][]byte{photoKey: []byte("jpg-bytes")}}
	clipFake := &fakeClip{vec: []float32{3, 4}}
	vecs := &fakeVectorStore{}
	h := fx.handlers(func(d *Deps) {
		d.Store = store
		d.Clip = clipFake
		d.Vectors = vecs
	})

	if err := h.handlePersonPhoto(ctx, task); err != nil {
		t.Fatalf("handlePersonPhoto: %v", err)
	}

	got := vecs.personVec(person.ID.String())
	want := []float32{0.6, 0.8}
	if len(got) != len(want) {
		t.Fatalf("vector length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("vec[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	reloaded, err := fx.persons.GetByID(ctx, nil, tenant.ID, person.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload person: %v", err)
	}
	if reloaded.Status != types.PersonStatusReady {
		t.Errorf("person status = %q, want READY", reloaded.Status)
	}
	if !reloaded.HasQueryEmbedding {
		t.Error("has_query_embedding not set")
	}

	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusSucceeded {
		t.Errorf("status = %q, want SUCCEEDED", stored.Status)
	}
}

func TestHandlePersonPhotoDownloadFailureRequeues(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	person := testutil.SeedPerson(t, ctx, fx.db, tenant.ID, "Maya", types.PersonStatusPending)
	if err := fx.persons.UpdateFields(ctx, nil, person.ID, map[string]interface{}{
		"photo_key": "some/photo.jpg",
	}); err != nil {
		t.Fatalf("set photo key: %v", err)
	}
	run, task := fx.seedRun(t, tenant.ID, nil, &person.ID, types.JobKindPersonPhoto)

	store := &fakeObjectStore{downErr: errors.New("gcs 503")}
	h := fx.handlers(func(d *Deps) {
		d.Store = store
		d.Clip = &fakeClip{vec: []float32{1, 0}}
		d.Vectors = &fakeVectorStore{}
	})

	err := h.handlePersonPhoto(ctx, task)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want retryable failure", err)
	}
	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusQueued {
		t.Errorf("status = %q, want QUEUED for retry", stored.Status)
	}
}

func TestHandlePersonPhotoRejectsUnusableEmbedding(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	person := testutil.SeedPerson(t, ctx, fx.db, tenant.ID, "Maya", types.PersonStatusPending)
	photoKey := "some/photo.jpg"
	if err := fx.persons.UpdateFields(ctx, nil, person.ID, map[string]interface{}{
		"photo_key": photoKey,
	}); err != nil {
		t.Fatalf("set photo key: %v", err)
	}
	run, task := fx.seedRun(t, tenant.ID, nil, &person.ID, types.JobKindPersonPhoto)

	h := fx.handlers(func(d *Deps) {
		d.Store = &fakeObjectStore{objects: map[string][]byte{photoKey: []byte("jpg")}}
		d.Clip = &fakeClip{vec: []float32{float32(math.NaN()), 1}}
		d.Vectors = &fakeVectorStore{}
	})

	err := h.handlePersonPhoto(ctx, task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry wrap", err)
	}
	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusFailed {
		t.Errorf("status = %q, want FAILED", stored.Status)
	}
	if !strings.Contains(stored.Error, "unusable") {
		t.Errorf("error = %q, want contract message", stored.Error)
	}
}
