package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	jobrepo "github.com/heimdex/heimdex-backend/internal/data/repos/jobs"
	personrepo "github.com/heimdex/heimdex-backend/internal/data/repos/persons"
	scenerepo "github.com/heimdex/heimdex-backend/internal/data/repos/scenes"
	"github.com/heimdex/heimdex-backend/internal/data/repos/testutil"
	videorepo "github.com/heimdex/heimdex-backend/internal/data/repos/videos"
	types "github.com/heimdex/heimdex-backend/internal/domain"
	"github.com/heimdex/heimdex-backend/internal/platform/gcs"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/redisbus"
	"github.com/heimdex/heimdex-backend/internal/platform/vectorstore"
)

type fakeTaskClient struct {
	mu    sync.Mutex
	err   error
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (f *fakeTaskClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{
		ID:      optString(opts, asynq.TaskIDOpt),
		Queue:   optString(opts, asynq.QueueOpt),
		Type:    task.Type(),
		Payload: task.Payload(),
	}, nil
}

func (f *fakeTaskClient) enqueued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeTaskClient) lastTask(t *testing.T) (*asynq.Task, []asynq.Option) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tasks) == 0 {
		t.Fatal("no task enqueued")
	}
	return f.tasks[len(f.tasks)-1], f.opts[len(f.opts)-1]
}

func optString(opts []asynq.Option, typ asynq.OptionType) string {
	for _, o := range opts {
		if o.Type() == typ {
			if s, ok := o.Value().(string); ok {
				return s
			}
		}
	}
	return ""
}

func optInt(opts []asynq.Option, typ asynq.OptionType) int {
	for _, o := range opts {
		if o.Type() == typ {
			if n, ok := o.Value().(int); ok {
				return n
			}
		}
	}
	return 0
}

func optDuration(opts []asynq.Option, typ asynq.OptionType) time.Duration {
	for _, o := range opts {
		if o.Type() == typ {
			if d, ok := o.Value().(time.Duration); ok {
				return d
			}
		}
	}
	return 0
}

type fakeCanceler struct {
	mu  sync.Mutex
	err error
	ids []string
}

func (f *fakeCanceler) CancelProcessing(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, id)
	return nil
}

func (f *fakeCanceler) canceled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type fakeBuilder struct {
	mu    sync.Mutex
	calls int
	err   error
	fn    func(ctx context.Context, tenantID, videoID uuid.UUID) error
}

func (f *fakeBuilder) Process(ctx context.Context, tenantID, videoID uuid.UUID) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, tenantID, videoID)
	}
	return f.err
}

func (f *fakeBuilder) processed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBus struct {
	mu     sync.Mutex
	events []redisbus.JobEvent
}

func (f *fakeBus) Publish(ctx context.Context, ev redisbus.JobEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeBus) StartForwarder(ctx context.Context, onEvent func(redisbus.JobEvent)) error {
	return nil
}

func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (f *fakeBus) hasKind(kind types.JobEventKind) bool {
	for _, k := range f.kinds() {
		if k == string(kind) {
			return true
		}
	}
	return false
}

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	downErr error
	upErr   error
}

func (f *fakeObjectStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	if f.upErr != nil {
		return f.upErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.downErr != nil {
		return nil, f.downErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) OpenRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeObjectStore) GetObjectAttrs(ctx context.Context, key string) (*gcs.ObjectAttrs, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error          { return nil }
func (f *fakeObjectStore) DeletePrefix(ctx context.Context, prefix string) error { return nil }
func (f *fakeObjectStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}
func (f *fakeObjectStore) SignedDownloadURL(key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}
func (f *fakeObjectStore) SignedUploadURL(key, contentType string, ttl time.Duration) (string, error) {
	return "", errors.New("not implemented")
}
func (f *fakeObjectStore) PublicURL(key string) string { return "https://pub.example/" + key }
func (f *fakeObjectStore) GCSURI(key string) string    { return "gs://test-bucket/" + key }

func (f *fakeObjectStore) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

type fakeClip struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	paths []string
}

func (f *fakeClip) EmbedImage(ctx context.Context, imagePath string) ([]float32, error) {
	f.mu.Lock()
	f.paths = append(f.paths, imagePath)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]float32(nil), f.vec...), nil
}

func (f *fakeClip) EmbedTextForImageSpace(ctx context.Context, text string) ([]float32, error) {
	return append([]float32(nil), f.vec...), nil
}

func (f *fakeClip) Model() string { return "clip-test" }
func (f *fakeClip) Dim() int      { return len(f.vec) }

type fakeVectorStore struct {
	mu         sync.Mutex
	personVecs map[string][]float32
	upErr      error
}

func (f *fakeVectorStore) UpsertScene(ctx context.Context, point vectorstore.ScenePoint) error {
	return nil
}

func (f *fakeVectorStore) Nearest(ctx context.Context, channel string, query []float32, tenantID string, topK int, threshold float64, videoID string) ([]vectorstore.Match, error) {
	return nil, nil
}

func (f *fakeVectorStore) BatchScore(ctx context.Context, channel string, query []float32, sceneIDs []string, tenantID string) (map[string]float64, error) {
	return nil, nil
}

func (f *fakeVectorStore) DeleteScenes(ctx context.Context, tenantID, videoID string) error {
	return nil
}

func (f *fakeVectorStore) UpdatePersonQueryEmbedding(ctx context.Context, tenantID, personID string, vec []float32) error {
	if f.upErr != nil {
		return f.upErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.personVecs == nil {
		f.personVecs = map[string][]float32{}
	}
	f.personVecs[personID] = append([]float32(nil), vec...)
	return nil
}

func (f *fakeVectorStore) GetPersonQueryEmbedding(ctx context.Context, tenantID, personID string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.personVecs[personID], nil
}

func (f *fakeVectorStore) DeletePerson(ctx context.Context, tenantID, personID string) error {
	return nil
}

func (f *fakeVectorStore) personVec(personID string) []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.personVecs[personID]
}

// jobsFixture wires real sqlite-backed repos with fake broker and platform
// clients so enqueuer and handler behavior can be exercised end to end.
type jobsFixture struct {
	db      *gorm.DB
	log     *logger.Logger
	jobs    jobrepo.JobRunRepo
	events  jobrepo.JobRunEventRepo
	videos  videorepo.VideoRepo
	persons personrepo.PersonRepo
	scenes  scenerepo.SceneRepo
	bus     *fakeBus
	notify  *Notifier
	client  *fakeTaskClient
	cancels *fakeCanceler
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	fx := &jobsFixture{
		db:      db,
		log:     log,
		jobs:    jobrepo.NewJobRunRepo(db, log),
		events:  jobrepo.NewJobRunEventRepo(db, log),
		videos:  videorepo.NewVideoRepo(db, log),
		persons: personrepo.NewPersonRepo(db, log),
		scenes:  scenerepo.NewSceneRepo(db, log),
		bus:     &fakeBus{},
		client:  &fakeTaskClient{},
		cancels: &fakeCanceler{},
	}
	fx.notify = NewNotifier(log, db, fx.jobs, fx.events, fx.bus)
	return fx
}

func (fx *jobsFixture) enqueuer(t *testing.T) Enqueuer {
	t.Helper()
	e, err := NewEnqueuer(fx.log, Config{}, fx.client, fx.cancels, fx.videos, fx.persons, fx.jobs, fx.notify)
	if err != nil {
		t.Fatalf("new enqueuer: %v", err)
	}
	return e
}

func (fx *jobsFixture) handlers(mutate func(*Deps)) *handlers {
	d := Deps{
		DB:      fx.db,
		Jobs:    fx.jobs,
		Videos:  fx.videos,
		Persons: fx.persons,
		Scenes:  fx.scenes,
		Notify:  fx.notify,
	}
	if mutate != nil {
		mutate(&d)
	}
	return newHandlers(fx.log, Config{}, d)
}

func (fx *jobsFixture) seedTenant(t *testing.T) *types.Tenant {
	t.Helper()
	ctx := context.Background()
	tenant := testutil.SeedTenant(t, ctx, fx.db, "jobs-"+uuid.NewString()[:8])
	t.Cleanup(func() {
		fx.db.Unscoped().Where("tenant_id = ?", tenant.ID).Delete(&types.JobRunEvent{})
		fx.db.Unscoped().Where("tenant_id = ?", tenant.ID).Delete(&types.JobRun{})
		fx.db.Unscoped().Where("tenant_id = ?", tenant.ID).Delete(&types.Scene{})
		fx.db.Unscoped().Where("tenant_id = ?", tenant.ID).Delete(&types.Video{})
		fx.db.Unscoped().Where("tenant_id = ?", tenant.ID).Delete(&types.Person{})
		fx.db.Unscoped().Where("id = ?", tenant.ID).Delete(&types.Tenant{})
	})
	return tenant
}

// seedRun creates a QUEUED run row plus the matching broker task, the same
// shape the enqueuer produces, without going through the enqueuer.
func (fx *jobsFixture) seedRun(t *testing.T, tenantID uuid.UUID, videoID, personID *uuid.UUID, kind string) (*types.JobRun, *asynq.Task) {
	t.Helper()
	ctx := context.Background()

	p := Payload{
		JobID:    uuid.New(),
		TenantID: tenantID,
		VideoID:  videoID,
		PersonID: personID,
		Kind:     kind,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	subject := uuid.Nil
	if videoID != nil {
		subject = *videoID
	} else if personID != nil {
		subject = *personID
	}
	run := &types.JobRun{
		ID:          p.JobID,
		TenantID:    tenantID,
		Kind:        kind,
		Fingerprint: mintFingerprint(kind, tenantID, subject, time.Now()),
		VideoID:     videoID,
		PersonID:    personID,
		Status:      types.JobStatusQueued,
		QueuedAt:    time.Now(),
		Payload:     raw,
	}
	if _, err := fx.jobs.Create(ctx, nil, []*types.JobRun{run}); err != nil {
		t.Fatalf("create job run: %v", err)
	}

	taskType, err := taskTypeFor(kind)
	if err != nil {
		t.Fatalf("task type: %v", err)
	}
	return run, asynq.NewTask(taskType, raw)
}

func (fx *jobsFixture) reloadRun(t *testing.T, tenantID, jobID uuid.UUID) *types.JobRun {
	t.Helper()
	run, err := fx.jobs.GetByID(context.Background(), nil, tenantID, jobID)
	if err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if run == nil {
		t.Fatalf("run %s not found", jobID)
	}
	return run
}
