package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"ocr-service/internal/auth"
	"ocr-service/internal/filestore"
	"ocr-service/internal/models"
	"ocr-service/internal/queue"
	"ocr-service/internal/storage"
	"ocr-service/internal/worker"
)

type memUsers struct {
	seq   int64
	users map[string]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*models.User)}
}

func (m *memUsers) GetUser(ctx context.Context, id int64) (*models.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memUsers) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memUsers) CreateUser(ctx context.Context, email, hashedPassword string) (*models.User, error) {
	m.seq++
	u := &models.User{ID: m.seq, Email: email, HashedPassword: hashedPassword, IsActive: 1, CreatedAt: time.Now()}
	m.users[email] = u
	return u, nil
}

type memJobs struct {
	records map[int64]*models.JobRecord
}

func newMemJobs() *memJobs {
	return &memJobs{records: make(map[int64]*models.JobRecord)}
}

func (m *memJobs) GetJobRecord(ctx context.Context, imageID int64) (*models.JobRecord, error) {
	if r, ok := m.records[imageID]; ok {
		return r, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memJobs) UpsertJobRecord(ctx context.Context, imageID, userID int64) error {
	if r, ok := m.records[imageID]; ok {
		r.Status = models.StatusPending
		r.Text = nil
		r.ErrorMessage = nil
		return nil
	}
	m.records[imageID] = &models.JobRecord{
		ImageID:   imageID,
		UserID:    userID,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *memJobs) UpdateJobRecord(ctx context.Context, imageID int64, upd models.JobUpdate) error {
	r, ok := m.records[imageID]
	if !ok {
		return storage.ErrNotFound
	}
	if upd.Status != nil {
		r.Status = *upd.Status
	}
	if upd.Text != nil {
		r.Text = upd.Text
	} else if upd.ClearText {
		r.Text = nil
	}
	if upd.ErrorMessage != nil {
		r.ErrorMessage = upd.ErrorMessage
	} else if upd.ClearError {
		r.ErrorMessage = nil
	}
	return nil
}

func (m *memJobs) DeleteJobRecord(ctx context.Context, imageID int64) (bool, error) {
	if _, ok := m.records[imageID]; !ok {
		return false, nil
	}
	delete(m.records, imageID)
	return true, nil
}

// fakeDispatcher records the dispatched task. When worker is set it runs the
// task synchronously, standing in for the consumer loop.
type fakeDispatcher struct {
	err      error
	lastTask models.OCRTask
	tracker  *queue.Tracker
	worker   *worker.Worker
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, task models.OCRTask) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	task.TaskID = uuid.New().String()
	d.lastTask = task
	d.tracker.Register(task.TaskID)
	if d.worker != nil {
		d.tracker.Started(task.TaskID)
		result, err := d.worker.Handle(ctx, task)
		if err != nil {
			d.tracker.Failed(task.TaskID, err.Error())
		} else {
			d.tracker.Succeeded(task.TaskID, result)
		}
	}
	return task.TaskID, nil
}

type stubEngine struct {
	text string
	err  error
}

func (e *stubEngine) ExtractText(ctx context.Context, image []byte, lang string) (string, error) {
	return e.text, e.err
}

type env struct {
	svc     *Service
	users   *memUsers
	jobs    *memJobs
	files   *filestore.FileStore
	disp    *fakeDispatcher
	tracker *queue.Tracker
	root    string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	root := t.TempDir()
	files, err := filestore.NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	users := newMemUsers()
	jobs := newMemJobs()
	tracker := queue.NewTracker()
	disp := &fakeDispatcher{tracker: tracker}
	tokens := auth.NewManager("test-secret", time.Minute)

	return &env{
		svc:     New(users, jobs, files, disp, tracker, tokens),
		users:   users,
		jobs:    jobs,
		files:   files,
		disp:    disp,
		tracker: tracker,
		root:    root,
	}
}

func (e *env) upload(t *testing.T, userID int64, filename string, data []byte) int64 {
	t.Helper()
	res, err := e.svc.Upload(context.Background(), data, filename, userID)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	return res.ImageID
}

func TestRegisterShortPassword(t *testing.T) {
	e := newEnv(t)

	if _, err := e.svc.Register(context.Background(), "a@b.c", "12345"); !errors.Is(err, ErrValidation) {
		t.Fatalf("Register() error = %v, want ErrValidation", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.svc.Register(ctx, "a@b.c", "secret1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := e.svc.Register(ctx, "a@b.c", "secret2"); !errors.Is(err, ErrValidation) {
		t.Fatalf("second Register() error = %v, want ErrValidation", err)
	}
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	user, err := e.svc.Register(ctx, "a@b.c", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	token, err := e.svc.Login(ctx, "a@b.c", "secret1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token == "" {
		t.Fatal("Login() returned empty token")
	}

	if _, err := e.svc.Login(ctx, "a@b.c", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Login() with wrong password error = %v, want ErrUnauthorized", err)
	}
	if _, err := e.svc.Login(ctx, "nobody@b.c", "secret1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Login() with unknown email error = %v, want ErrUnauthorized", err)
	}

	user.IsActive = 0
	if _, err := e.svc.Login(ctx, "a@b.c", "secret1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Login() deactivated error = %v, want ErrForbidden", err)
	}
}

func TestUploadDisallowedExtension(t *testing.T) {
	e := newEnv(t)

	if _, err := e.svc.Upload(context.Background(), []byte("data"), "doc.pdf", 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("Upload() error = %v, want ErrValidation", err)
	}
}

func TestGetTextBeforeAnalyse(t *testing.T) {
	e := newEnv(t)
	imageID := e.upload(t, 1, "cat.jpg", []byte{0xff, 0xd8})

	if _, err := e.svc.GetText(context.Background(), imageID, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetText() error = %v, want ErrNotFound", err)
	}
}

func TestAnalyseMissingImage(t *testing.T) {
	e := newEnv(t)

	if _, err := e.svc.Analyse(context.Background(), 12345, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Analyse() error = %v, want ErrNotFound", err)
	}
}

func TestAnalyseCreatesPendingAndDispatches(t *testing.T) {
	e := newEnv(t)
	data := []byte{0xff, 0xd8, 0xaa}
	imageID := e.upload(t, 1, "cat.jpg", data)

	res, err := e.svc.Analyse(context.Background(), imageID, 1)
	if err != nil {
		t.Fatalf("Analyse() error = %v", err)
	}
	if res.Status != models.StatusProcessing {
		t.Fatalf("status = %q, want processing", res.Status)
	}
	if res.TaskID == "" || res.ImageID != imageID {
		t.Fatalf("result = %+v", res)
	}

	record := e.jobs.records[imageID]
	if record == nil || record.Status != models.StatusPending {
		t.Fatalf("job record = %+v, want pending", record)
	}
	if string(e.disp.lastTask.ImageData) != string(data) {
		t.Fatal("dispatched task does not carry the stored bytes")
	}
	if e.disp.lastTask.UserID != 1 || e.disp.lastTask.ImageID != imageID {
		t.Fatalf("dispatched task = %+v", e.disp.lastTask)
	}
}

func TestAnalyseResetClearsPriorResult(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	imageID := e.upload(t, 1, "cat.jpg", []byte{0xff, 0xd8})

	if _, err := e.svc.Analyse(ctx, imageID, 1); err != nil {
		t.Fatalf("Analyse() error = %v", err)
	}

	// Simulate a finished worker run.
	completed := models.StatusCompleted
	text := "OLD TEXT"
	if err := e.jobs.UpdateJobRecord(ctx, imageID, models.JobUpdate{Status: &completed, Text: &text}); err != nil {
		t.Fatalf("UpdateJobRecord() error = %v", err)
	}

	if _, err := e.svc.Analyse(ctx, imageID, 1); err != nil {
		t.Fatalf("second Analyse() error = %v", err)
	}

	record := e.jobs.records[imageID]
	if record.Status != models.StatusPending {
		t.Fatalf("status after reset = %q, want pending", record.Status)
	}
	if record.Text != nil {
		t.Fatalf("text after reset = %q, want nil", *record.Text)
	}
	if record.ErrorMessage != nil {
		t.Fatalf("error after reset = %q, want nil", *record.ErrorMessage)
	}
}

func TestAnalyseDispatchFailure(t *testing.T) {
	e := newEnv(t)
	e.disp.err = errors.New("broker unreachable")
	imageID := e.upload(t, 1, "cat.jpg", []byte{0xff, 0xd8})

	if _, err := e.svc.Analyse(context.Background(), imageID, 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Analyse() error = %v, want ErrUnavailable", err)
	}

	record := e.jobs.records[imageID]
	if record == nil || record.Status != models.StatusFailed {
		t.Fatalf("job record = %+v, want failed", record)
	}
	if record.ErrorMessage == nil || !strings.Contains(*record.ErrorMessage, "dispatch error") {
		t.Fatalf("error message = %v", record.ErrorMessage)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	const owner, intruder = 1, 2

	imageID := e.upload(t, owner, "cat.jpg", []byte{0xff, 0xd8})
	if _, err := e.svc.Analyse(ctx, imageID, owner); err != nil {
		t.Fatalf("Analyse() error = %v", err)
	}

	if _, err := e.svc.GetText(ctx, imageID, intruder); !errors.Is(err, ErrForbidden) {
		t.Fatalf("GetText() by intruder error = %v, want ErrForbidden", err)
	}
	if _, err := e.svc.Delete(ctx, imageID, intruder); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Delete() by intruder error = %v, want ErrForbidden", err)
	}

	// Give the intruder a file under the same image id in their own
	// namespace: the job record's owner still wins.
	dir := filepath.Join(e.root, strconv.Itoa(intruder))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	path := filepath.Join(dir, strconv.FormatInt(imageID, 10)+".jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8}, 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := e.svc.Analyse(ctx, imageID, intruder); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Analyse() by intruder error = %v, want ErrForbidden", err)
	}

	// Without a colliding file the intruder cannot even observe the image.
	if _, err := e.svc.Analyse(ctx, imageID+1, intruder); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Analyse() unknown image error = %v, want ErrNotFound", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	imageID := e.upload(t, 1, "cat.jpg", []byte{0xff, 0xd8})
	if _, err := e.svc.Analyse(ctx, imageID, 1); err != nil {
		t.Fatalf("Analyse() error = %v", err)
	}

	res, err := e.svc.Delete(ctx, imageID, 1)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !res.DBRecordDeleted || !res.FileDeleted {
		t.Fatalf("Delete() result = %+v, want both deleted", res)
	}

	if _, err := e.svc.Delete(ctx, imageID, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
	}
	if _, err := e.svc.GetText(ctx, imageID, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetText() after delete error = %v, want ErrNotFound", err)
	}
}

func TestDeleteFileOnly(t *testing.T) {
	e := newEnv(t)
	imageID := e.upload(t, 1, "cat.png", []byte("png"))

	res, err := e.svc.Delete(context.Background(), imageID, 1)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if res.DBRecordDeleted {
		t.Fatal("db_record_deleted = true, want false")
	}
	if !res.FileDeleted {
		t.Fatal("file_deleted = false, want true")
	}
}

func TestAnalyseWorkerCompletes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.disp.worker = worker.New(e.jobs, &stubEngine{text: "MEOW"}, "eng", time.Minute, 50*time.Second)

	imageID := e.upload(t, 7, "cat.jpg", []byte{0xff, 0xd8})
	res, err := e.svc.Analyse(ctx, imageID, 7)
	if err != nil {
		t.Fatalf("Analyse() error = %v", err)
	}

	snapshot, err := e.svc.GetText(ctx, imageID, 7)
	if err != nil {
		t.Fatalf("GetText() error = %v", err)
	}
	if snapshot.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed", snapshot.Status)
	}
	if snapshot.Text == nil || *snapshot.Text != "MEOW" {
		t.Fatalf("text = %v, want MEOW", snapshot.Text)
	}
	if snapshot.ErrorMessage != nil {
		t.Fatalf("error message = %q, want nil", *snapshot.ErrorMessage)
	}

	status := e.svc.TaskStatus(res.TaskID)
	if status.Status != queue.TaskSuccess || !status.Ready {
		t.Fatalf("task status = %+v", status)
	}
}

func TestAnalyseWorkerRecognitionFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.disp.worker = worker.New(e.jobs, &stubEngine{err: errors.New("decode image: corrupt")}, "eng", time.Minute, 50*time.Second)

	imageID := e.upload(t, 7, "bad.jpg", []byte("not an image"))

	// Dispatch succeeds; the failure is only discoverable by polling.
	if _, err := e.svc.Analyse(ctx, imageID, 7); err != nil {
		t.Fatalf("Analyse() error = %v", err)
	}

	snapshot, err := e.svc.GetText(ctx, imageID, 7)
	if err != nil {
		t.Fatalf("GetText() error = %v", err)
	}
	if snapshot.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed", snapshot.Status)
	}
	if snapshot.Text != nil {
		t.Fatalf("text = %q, want nil", *snapshot.Text)
	}
	if snapshot.ErrorMessage == nil || *snapshot.ErrorMessage == "" {
		t.Fatal("error message missing")
	}
}

func TestTaskStatusDegradation(t *testing.T) {
	e := newEnv(t)

	res := e.svc.TaskStatus("not-a-uuid")
	if res.Status != "UNKNOWN" || res.Error == "" {
		t.Fatalf("TaskStatus() = %+v, want UNKNOWN with error", res)
	}

	unseen := uuid.New().String()
	res = e.svc.TaskStatus(unseen)
	if res.Status != queue.TaskPending || res.Ready {
		t.Fatalf("TaskStatus() for unseen handle = %+v, want PENDING", res)
	}

	failedID := uuid.New().String()
	e.tracker.Register(failedID)
	e.tracker.Failed(failedID, "")
	res = e.svc.TaskStatus(failedID)
	if res.Status != queue.TaskFailure || res.Error != "Unknown error" {
		t.Fatalf("TaskStatus() = %+v, want FAILURE with sentinel error", res)
	}
}
