package models

import "time"

// Inspection is a scheduled field visit against a case or license.
type Inspection struct {
	InspectionID string     `json:"inspectionId" yaml:"inspection_id" gorm:"primaryKey;column:inspection_id"`
	ContentID    string     `json:"contentId" yaml:"content_id" gorm:"column:content_id;index"`
	CaseNumber   string     `json:"caseNumber" yaml:"case_number" gorm:"column:case_number"`
	Title        string     `json:"title" yaml:"title" gorm:"column:title"`
	Status       string     `json:"status" yaml:"status" gorm:"column:status;index"`
	AssignedTo   string     `json:"assignedTo" yaml:"assigned_to" gorm:"column:assigned_to;index"`
	ScheduledAt  *time.Time `json:"scheduledAt,omitempty" yaml:"scheduled_at,omitempty" gorm:"column:scheduled_at"`
	ModifiedAt   *time.Time `json:"modifiedAt,omitempty" yaml:"modified_at,omitempty" gorm:"column:modified_at"`
	ReadOnly     bool       `json:"readOnly" yaml:"read_only" gorm:"column:read_only"`
	ShowReport   bool       `json:"showReport" yaml:"show_report" gorm:"column:show_report"`
}

// TableName pins the local table name.
func (Inspection) TableName() string { return "inspections" }

// BusinessKey returns the inspection id.
func (i Inspection) BusinessKey() string { return i.InspectionID }

// LastModified returns the modification time, or epoch 0 when unknown.
func (i Inspection) LastModified() time.Time { return modified(i.ModifiedAt) }
