package models

import "time"

// Submission states.
const (
	SubmissionPending = "pending"
	SubmissionSynced  = "synced"
	SubmissionFailed  = "failed"
)

// Submission is a completed inspection form. It is written locally first
// and pushed to the server by reconciliation; Synced flips only after the
// server acknowledges it.
type Submission struct {
	SubmissionID string     `json:"submissionId" yaml:"submission_id" gorm:"primaryKey;column:submission_id"`
	InspectionID string     `json:"inspectionId" yaml:"inspection_id" gorm:"column:inspection_id;index"`
	ContentID    string     `json:"contentId" yaml:"content_id" gorm:"column:content_id"`
	Payload      string     `json:"payload" yaml:"payload" gorm:"column:payload"`
	Status       string     `json:"status" yaml:"status" gorm:"column:status;index"`
	Synced       bool       `json:"synced" yaml:"synced" gorm:"column:synced;index"`
	Attempts     int        `json:"attempts" yaml:"attempts" gorm:"column:attempts"`
	LastError    string     `json:"lastError,omitempty" yaml:"last_error,omitempty" gorm:"column:last_error"`
	CreatedAt    time.Time  `json:"createdAt" yaml:"created_at" gorm:"column:created_at"`
	SyncedAt     *time.Time `json:"syncedAt,omitempty" yaml:"synced_at,omitempty" gorm:"column:synced_at"`
	ModifiedAt   *time.Time `json:"modifiedAt,omitempty" yaml:"modified_at,omitempty" gorm:"column:modified_at"`
}

// TableName pins the local table name.
func (Submission) TableName() string { return "submissions" }

// BusinessKey returns the submission id.
func (s Submission) BusinessKey() string { return s.SubmissionID }

// LastModified returns the modification time, or epoch 0 when unknown.
func (s Submission) LastModified() time.Time { return modified(s.ModifiedAt) }
