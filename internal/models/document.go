package models

import "time"

// Node kinds.
const (
	KindFolder   = "folder"
	KindDocument = "document"
)

// RootFolderID names the top of the document tree.
const RootFolderID = "root"

// DocumentNode is one entry of a folder listing: a sub-folder or a leaf
// document.
type DocumentNode struct {
	NodeID     string     `json:"id" yaml:"id" gorm:"primaryKey;column:node_id"`
	ContentID  string     `json:"contentId" yaml:"content_id" gorm:"column:content_id"`
	ParentID   string     `json:"parentId" yaml:"parent_id" gorm:"column:parent_id;index"`
	Name       string     `json:"name" yaml:"name" gorm:"column:name"`
	Kind       string     `json:"kind" yaml:"kind" gorm:"column:kind;index"`
	MimeType   string     `json:"mimeType,omitempty" yaml:"mime_type,omitempty" gorm:"column:mime_type"`
	Size       int64      `json:"size" yaml:"size" gorm:"column:size"`
	ModifiedAt *time.Time `json:"modifiedAt,omitempty" yaml:"modified_at,omitempty" gorm:"column:modified_at"`
	ReadOnly   bool       `json:"readOnly" yaml:"read_only" gorm:"column:read_only"`
}

// TableName pins the local table name.
func (DocumentNode) TableName() string { return "document_nodes" }

// BusinessKey returns the node id.
func (d DocumentNode) BusinessKey() string { return d.NodeID }

// LastModified returns the modification time, or epoch 0 when unknown.
func (d DocumentNode) LastModified() time.Time { return modified(d.ModifiedAt) }

// IsFolder reports whether the node can be entered.
func (d DocumentNode) IsFolder() bool { return d.Kind == KindFolder }
