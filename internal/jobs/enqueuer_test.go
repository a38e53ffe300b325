package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/heimdex/heimdex-backend/internal/data/repos/testutil"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	perrors "github.com/heimdex/heimdex-backend/internal/pkg/errors"
)

func TestEnqueueVideoCreatesRunAndTask(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusPending)

	run, err := fx.enqueuer(t).EnqueueVideo(ctx, tenant.ID, video.ID, types.JobKindIngest, "en")
	if err != nil {
		t.Fatalf("EnqueueVideo: %v", err)
	}
	if run.Status != types.JobStatusQueued {
		t.Errorf("status = %q, want QUEUED", run.Status)
	}
	if run.Kind != types.JobKindIngest {
		t.Errorf("kind = %q, want ingest", run.Kind)
	}
	if run.VideoID == nil || *run.VideoID != video.ID {
		t.Errorf("video id = %v, want %s", run.VideoID, video.ID)
	}
	if run.Fingerprint == "" {
		t.Error("fingerprint not minted")
	}

	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusQueued {
		t.Errorf("stored status = %q, want QUEUED", stored.Status)
	}

	task, opts := fx.client.lastTask(t)
	if task.Type() != TaskVideoIngest {
		t.Errorf("task type = %q, want %q", task.Type(), TaskVideoIngest)
	}
	if got := optString(opts, asynq.QueueOpt); got != "ingest" {
		t.Errorf("queue = %q, want ingest", got)
	}
	if got := optString(opts, asynq.TaskIDOpt); got != run.Fingerprint {
		t.Errorf("task id = %q, want fingerprint %q", got, run.Fingerprint)
	}
	if got := optInt(opts, asynq.MaxRetryOpt); got != 3 {
		t.Errorf("max retry = %d, want 3", got)
	}
	if got := optDuration(opts, asynq.TimeoutOpt); got != 120*time.Minute {
		t.Errorf("timeout = %v, want 120m", got)
	}

	var p Payload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		t.Fatalf("unmarshal task payload: %v", err)
	}
	if p.JobID != run.ID || p.TenantID != tenant.ID {
		t.Errorf("payload ids = (%s, %s), want (%s, %s)", p.JobID, p.TenantID, run.ID, tenant.ID)
	}
	if p.VideoID == nil || *p.VideoID != video.ID {
		t.Errorf("payload video id = %v, want %s", p.VideoID, video.ID)
	}
	if p.TranscriptLanguage != "en" {
		t.Errorf("payload language = %q, want en", p.TranscriptLanguage)
	}

	if !fx.bus.hasKind(types.JobEventCreated) {
		t.Errorf("bus kinds = %v, want created event", fx.bus.kinds())
	}
	events, err := fx.events.ListByJob(ctx, nil, tenant.ID, run.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != string(types.JobEventCreated) {
		t.Errorf("timeline = %d events, want single created event", len(events))
	}
}

func TestEnqueueVideoReturnsExistingRunnableRun(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusPending)
	e := fx.enqueuer(t)

	first, err := e.EnqueueVideo(ctx, tenant.ID, video.ID, types.JobKindIngest, "")
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	second, err := e.EnqueueVideo(ctx, tenant.ID, video.ID, types.JobKindIngest, "")
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("second enqueue minted new run %s, want existing %s", second.ID, first.ID)
	}
	if fx.client.enqueued() != 1 {
		t.Errorf("enqueued %d tasks, want 1", fx.client.enqueued())
	}
}

func TestEnqueueVideoAfterTerminalRunMintsNewRun(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusReady)
	testutil.SeedJobRun(t, ctx, fx.db, tenant.ID, &video.ID, types.JobKindIngest, types.JobStatusSucceeded)

	run, err := fx.enqueuer(t).EnqueueVideo(ctx, tenant.ID, video.ID, types.JobKindIngest, "")
	if err != nil {
		t.Fatalf("EnqueueVideo: %v", err)
	}
	if run.Status != types.JobStatusQueued {
		t.Errorf("status = %q, want QUEUED", run.Status)
	}
	if fx.client.enqueued() != 1 {
		t.Errorf("enqueued %d tasks, want 1", fx.client.enqueued())
	}
}

func TestEnqueueVideoUnknownKind(t *testing.T) {
	fx := newJobsFixture(t)
	tenant := fx.seedTenant(t)

	_, err := fx.enqueuer(t).EnqueueVideo(context.Background(), tenant.ID, uuid.New(), "defrag", "")
	if !errors.Is(err, perrors.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
	if fx.client.enqueued() != 0 {
		t.Error("task enqueued despite invalid kind")
	}
}

func TestEnqueueVideoMissingVideo(t *testing.T) {
	fx := newJobsFixture(t)
	tenant := fx.seedTenant(t)

	_, err := fx.enqueuer(t).EnqueueVideo(context.Background(), tenant.ID, uuid.New(), types.JobKindIngest, "")
	if !errors.Is(err, perrors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEnqueueVideoBrokerFailureMarksRunFailed(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusPending)
	fx.client.err = errors.New("redis down")

	_, err := fx.enqueuer(t).EnqueueVideo(ctx, tenant.ID, video.ID, types.JobKindIngest, "")
	if err == nil || !strings.Contains(err.Error(), "redis down") {
		t.Fatalf("err = %v, want broker failure", err)
	}

	run, rerr := fx.jobs.GetLatestByVideo(ctx, nil, tenant.ID, video.ID, types.JobKindIngest)
	if rerr != nil || run == nil {
		t.Fatalf("load run: %v, run=%v", rerr, run)
	}
	if run.Status != types.JobStatusFailed {
		t.Errorf("status = %q, want FAILED", run.Status)
	}
	if !strings.Contains(run.Error, "redis down") {
		t.Errorf("error = %q, want broker message", run.Error)
	}
}

func TestEnqueuePersonPhoto(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	person := testutil.SeedPerson(t, ctx, fx.db, tenant.ID, "Maya", types.PersonStatusPending)
	if err := fx.persons.UpdateFields(ctx, nil, person.ID, map[string]interface{}{
		"photo_key": tenant.ID.String() + "/persons/" + person.ID.String() + "/photo.jpg",
	}); err != nil {
		t.Fatalf("set photo key: %v", err)
	}
	e := fx.enqueuer(t)

	run, err := e.EnqueuePersonPhoto(ctx, tenant.ID, person.ID)
	if err != nil {
		t.Fatalf("EnqueuePersonPhoto: %v", err)
	}
	if run.Kind != types.JobKindPersonPhoto {
		t.Errorf("kind = %q, want person_photo", run.Kind)
	}
	if run.PersonID == nil || *run.PersonID != person.ID {
		t.Errorf("person id = %v, want %s", run.PersonID, person.ID)
	}

	task, opts := fx.client.lastTask(t)
	if task.Type() != TaskPersonPhoto {
		t.Errorf("task type = %q, want %q", task.Type(), TaskPersonPhoto)
	}
	if got := optString(opts, asynq.QueueOpt); got != "person_photo" {
		t.Errorf("queue = %q, want person_photo", got)
	}

	if _, err := e.EnqueuePersonPhoto(ctx, tenant.ID, person.ID); !errors.Is(err, perrors.ErrInvalidArgument) {
		t.Errorf("second enqueue err = %v, want ErrInvalidArgument", err)
	}
}

func TestEnqueuePersonPhotoRequiresPhoto(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	person := testutil.SeedPerson(t, ctx, fx.db, tenant.ID, "Maya", types.PersonStatusPending)

	_, err := fx.enqueuer(t).EnqueuePersonPhoto(ctx, tenant.ID, person.ID)
	if !errors.Is(err, perrors.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestCancelQueuedRun(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusPending)
	e := fx.enqueuer(t)

	run, err := e.EnqueueVideo(ctx, tenant.ID, video.ID, types.JobKindIngest, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	canceled, err := e.Cancel(ctx, tenant.ID, run.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceled.Status != types.JobStatusCanceled {
		t.Errorf("status = %q, want CANCELED", canceled.Status)
	}
	if canceled.FinishedAt == nil {
		t.Error("finished_at not set")
	}

	stored := fx.reloadRun(t, tenant.ID, run.ID)
	if stored.Status != types.JobStatusCanceled {
		t.Errorf("stored status = %q, want CANCELED", stored.Status)
	}

	ids := fx.cancels.canceled()
	if len(ids) != 1 || ids[0] != run.Fingerprint {
		t.Errorf("broker cancels = %v, want [%s]", ids, run.Fingerprint)
	}
	if !fx.bus.hasKind(types.JobEventCanceled) {
		t.Errorf("bus kinds = %v, want canceled event", fx.bus.kinds())
	}
}

func TestCancelTerminalRunIsNoOp(t *testing.T) {
	fx := newJobsFixture(t)
	ctx := context.Background()
	tenant := fx.seedTenant(t)
	video := testutil.SeedVideo(t, ctx, fx.db, tenant.ID, types.VideoStatusReady)
	run := testutil.SeedJobRun(t, ctx, fx.db, tenant.ID, &video.ID, types.JobKindIngest, types.JobStatusSucceeded)

	got, err := fx.enqueuer(t).Cancel(ctx, tenant.ID, run.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != types.JobStatusSucceeded {
		t.Errorf("status = %q, want SUCCEEDED untouched", got.Status)
	}
	if len(fx.cancels.canceled()) != 0 {
		t.Error("broker cancel issued for terminal run")
	}
}

func TestCancelMissingJob(t *testing.T) {
	fx := newJobsFixture(t)
	tenant := fx.seedTenant(t)

	_, err := fx.enqueuer(t).Cancel(context.Background(), tenant.ID, uuid.New())
	if !errors.Is(err, perrors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
