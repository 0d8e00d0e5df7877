package models

import "time"

// Job record statuses. Terminal states are only left by a fresh analyse
// call resetting the record to pending.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type User struct {
	ID             int64      `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	HashedPassword string     `db:"hashed_password" json:"-"`
	IsActive       int        `db:"is_active" json:"is_active"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updated_at"`
}

// JobRecord is the durable row tracking one image's OCR lifecycle. It is the
// authoritative status view; the task tracker in the queue package is an
// ephemeral, best-effort one.
type JobRecord struct {
	ID           int64      `db:"id"`
	ImageID      int64      `db:"image_id"`
	UserID       int64      `db:"user_id"`
	Text         *string    `db:"text"`
	Status       string     `db:"status"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at"`
}

// JobUpdate carries a partial update of a job record. Nil pointers leave the
// column untouched; Text and ErrorMessage use ClearText/ClearError to write
// an explicit NULL on analyse reset.
type JobUpdate struct {
	Status       *string
	Text         *string
	ErrorMessage *string
	ClearText    bool
	ClearError   bool
}

const maxErrorLen = 500

// TruncateError bounds error text stored in a job record to 500 characters.
func TruncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}

// OCRTask is the unit of work sent over the execution channel. ImageData is
// base64-encoded by the JSON codec.
type OCRTask struct {
	TaskID    string `json:"task_id"`
	ImageID   int64  `json:"image_id"`
	Filename  string `json:"filename"`
	UserID    int64  `json:"user_id"`
	ImageData []byte `json:"image_data"`
}
