package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"ocr-service/internal/auth"
	"ocr-service/internal/filestore"
	"ocr-service/internal/models"
	"ocr-service/internal/queue"
	"ocr-service/internal/storage"
)

// UserStore is the slice of the durable store used for identity.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, email, hashedPassword string) (*models.User, error)
}

// JobStore is the slice of the durable store holding job records.
type JobStore interface {
	GetJobRecord(ctx context.Context, imageID int64) (*models.JobRecord, error)
	UpsertJobRecord(ctx context.Context, imageID, userID int64) error
	UpdateJobRecord(ctx context.Context, imageID int64, upd models.JobUpdate) error
	DeleteJobRecord(ctx context.Context, imageID int64) (bool, error)
}

// Files is the per-user image store.
type Files interface {
	IsAllowed(filename string) bool
	Save(data []byte, filename string, userID int64) (int64, error)
	Locate(imageID, userID int64) (*filestore.FileInfo, error)
	Delete(imageID, userID int64) bool
}

// Dispatcher submits a unit of work to the execution channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, task models.OCRTask) (string, error)
}

// StatusReader exposes the execution channel's task bookkeeping.
type StatusReader interface {
	Snapshot(taskID string) queue.TaskSnapshot
}

// Service implements the guarded operations of the API. Every operation that
// touches a job record or a file enforces that the record's owner equals the
// requester; the job record's user_id is the sole authority for that check.
type Service struct {
	users      UserStore
	jobs       JobStore
	files      Files
	dispatcher Dispatcher
	tasks      StatusReader
	tokens     *auth.Manager
}

func New(users UserStore, jobs JobStore, files Files, dispatcher Dispatcher, tasks StatusReader, tokens *auth.Manager) *Service {
	return &Service{
		users:      users,
		jobs:       jobs,
		files:      files,
		dispatcher: dispatcher,
		tasks:      tasks,
		tokens:     tokens,
	}
}

func (s *Service) Register(ctx context.Context, email, password string) (*models.User, error) {
	const op = "service.Register"

	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrValidation)
	}

	_, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return nil, fmt.Errorf("%w: email already registered", ErrValidation)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	hash, err := s.tokens.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	user, err := s.users.CreateUser(ctx, email, hash)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	slog.Info("user registered", "user_id", user.ID, "email", email)
	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	const op = "service.Login"

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: incorrect email or password", ErrUnauthorized)
		}
		return "", fmt.Errorf("%s: %v", op, err)
	}
	if !s.tokens.CheckPassword(password, user.HashedPassword) {
		slog.Warn("failed login attempt", "email", email)
		return "", fmt.Errorf("%w: incorrect email or password", ErrUnauthorized)
	}
	if user.IsActive == 0 {
		return "", fmt.Errorf("%w: user is deactivated", ErrForbidden)
	}

	token, err := s.tokens.CreateToken(user.ID, user.Email)
	if err != nil {
		return "", fmt.Errorf("%s: %v", op, err)
	}
	return token, nil
}

type UploadResult struct {
	ImageID  int64  `json:"image_id"`
	Filename string `json:"filename"`
}

func (s *Service) Upload(ctx context.Context, data []byte, filename string, userID int64) (*UploadResult, error) {
	const op = "service.Upload"

	if !s.files.IsAllowed(filename) {
		return nil, fmt.Errorf("%w: only jpg, jpeg, png files allowed", ErrValidation)
	}

	imageID, err := s.files.Save(data, filename, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	slog.Info("file uploaded", "image_id", imageID, "user_id", userID, "filename", filename)
	return &UploadResult{ImageID: imageID, Filename: filename}, nil
}

type AnalyseResult struct {
	TaskID  string `json:"task_id"`
	ImageID int64  `json:"image_id"`
	Status  string `json:"status"`
}

// Analyse resets or creates the job record for the image and dispatches an
// OCR unit of work. Idempotent at the record level; each call enqueues a new
// unit of work, with last-writer-wins semantics between overlapping runs.
func (s *Service) Analyse(ctx context.Context, imageID, userID int64) (*AnalyseResult, error) {
	const op = "service.Analyse"

	info, err := s.files.Locate(imageID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: image not found", ErrNotFound)
	}

	record, err := s.jobs.GetJobRecord(ctx, imageID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	if record != nil && record.UserID != userID {
		slog.Warn("cross-user analyse attempt", "image_id", imageID, "user_id", userID)
		return nil, ErrForbidden
	}

	if err := s.jobs.UpsertJobRecord(ctx, imageID, userID); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	data, err := os.ReadFile(info.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	task := models.OCRTask{
		ImageID:   imageID,
		Filename:  info.Filename,
		UserID:    userID,
		ImageData: data,
	}
	taskID, err := s.dispatcher.Dispatch(ctx, task)
	if err != nil {
		s.markFailed(ctx, imageID, fmt.Sprintf("dispatch error: %v", err))
		return nil, fmt.Errorf("%w: ocr dispatch failed", ErrUnavailable)
	}

	slog.Info("ocr task dispatched", "task_id", taskID, "image_id", imageID, "user_id", userID)
	return &AnalyseResult{TaskID: taskID, ImageID: imageID, Status: models.StatusProcessing}, nil
}

type TextResult struct {
	ImageID      int64   `json:"image_id"`
	Text         *string `json:"text"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"error_message"`
	CreatedAt    string  `json:"created_at"`
}

func (s *Service) GetText(ctx context.Context, imageID, userID int64) (*TextResult, error) {
	const op = "service.GetText"

	record, err := s.jobs.GetJobRecord(ctx, imageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: text not found for this image", ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	if record.UserID != userID {
		slog.Warn("cross-user get_text attempt", "image_id", imageID, "user_id", userID)
		return nil, ErrForbidden
	}

	return &TextResult{
		ImageID:      record.ImageID,
		Text:         record.Text,
		Status:       record.Status,
		ErrorMessage: record.ErrorMessage,
		CreatedAt:    record.CreatedAt.Format(time.RFC3339),
	}, nil
}

type DeleteResult struct {
	Message         string `json:"message"`
	ImageID         int64  `json:"image_id"`
	DBRecordDeleted bool   `json:"db_record_deleted"`
	FileDeleted     bool   `json:"file_deleted"`
}

// Delete removes the job record and the stored file. NotFound only when both
// were already absent, which makes repeated deletes converge on 404.
func (s *Service) Delete(ctx context.Context, imageID, userID int64) (*DeleteResult, error) {
	const op = "service.Delete"

	record, err := s.jobs.GetJobRecord(ctx, imageID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	if record != nil && record.UserID != userID {
		slog.Warn("cross-user delete attempt", "image_id", imageID, "user_id", userID)
		return nil, ErrForbidden
	}

	dbDeleted := false
	if record != nil {
		dbDeleted, err = s.jobs.DeleteJobRecord(ctx, imageID)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
	}
	fileDeleted := s.files.Delete(imageID, userID)

	if !dbDeleted && !fileDeleted {
		return nil, fmt.Errorf("%w: record not found", ErrNotFound)
	}

	msg := "OCR record deleted from database"
	if fileDeleted {
		msg += " and file deleted"
	}
	slog.Info("image deleted", "image_id", imageID, "user_id", userID, "db", dbDeleted, "file", fileDeleted)
	return &DeleteResult{Message: msg, ImageID: imageID, DBRecordDeleted: dbDeleted, FileDeleted: fileDeleted}, nil
}

const unknownTaskError = "Unknown error"

type TaskStatusResult struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TaskStatus is a read-through view of the execution channel's bookkeeping.
// It never fails hard: an unparsable handle degrades to UNKNOWN with error
// text. Callers needing the durable result must use GetText instead.
func (s *Service) TaskStatus(taskID string) *TaskStatusResult {
	if _, err := uuid.Parse(taskID); err != nil {
		return &TaskStatusResult{TaskID: taskID, Status: "UNKNOWN", Error: fmt.Sprintf("invalid task id: %v", err)}
	}

	snap := s.tasks.Snapshot(taskID)
	res := &TaskStatusResult{
		TaskID: snap.TaskID,
		Status: snap.Status,
		Ready:  snap.Ready,
	}
	switch snap.Status {
	case queue.TaskSuccess:
		res.Result = snap.Result
	case queue.TaskFailure:
		res.Error = snap.Error
		if res.Error == "" {
			res.Error = unknownTaskError
		}
	}
	return res
}

func (s *Service) markFailed(ctx context.Context, imageID int64, msg string) {
	failed := models.StatusFailed
	truncated := models.TruncateError(msg)
	upd := models.JobUpdate{Status: &failed, ErrorMessage: &truncated}
	if err := s.jobs.UpdateJobRecord(ctx, imageID, upd); err != nil {
		slog.Error("could not mark job record failed", "image_id", imageID, "err", err)
	}
}
