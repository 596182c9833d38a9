package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLastModified_MissingIsEpoch(t *testing.T) {
	var i Inspection
	assert.Equal(t, int64(0), i.LastModified().Unix())

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	i.ModifiedAt = &ts
	assert.Equal(t, ts, i.LastModified())
}

func TestBusinessKeys(t *testing.T) {
	assert.Equal(t, "I1", Inspection{InspectionID: "I1"}.BusinessKey())
	assert.Equal(t, "N1", DocumentNode{NodeID: "N1"}.BusinessKey())
	assert.Equal(t, "S1", Submission{SubmissionID: "S1"}.BusinessKey())
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "inspections", Inspection{}.TableName())
	assert.Equal(t, "document_nodes", DocumentNode{}.TableName())
	assert.Equal(t, "submissions", Submission{}.TableName())
}

func TestDocumentNode_IsFolder(t *testing.T) {
	assert.True(t, DocumentNode{Kind: KindFolder}.IsFolder())
	assert.False(t, DocumentNode{Kind: KindDocument}.IsFolder())
}

func TestSortByModified_NewestFirstMissingLast(t *testing.T) {
	items := []Inspection{
		{InspectionID: "none1"},
		{InspectionID: "old", ModifiedAt: ptr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
		{InspectionID: "none2"},
		{InspectionID: "new", ModifiedAt: ptr(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))},
		{InspectionID: "mid", ModifiedAt: ptr(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))},
	}

	SortByModified(items)

	var ids []string
	for _, i := range items {
		ids = append(ids, i.InspectionID)
	}

	assert.Equal(t, []string{"new", "mid", "old", "none1", "none2"}, ids)
}

func TestSortByModified_StableOnTies(t *testing.T) {
	ts := ptr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	items := []DocumentNode{{NodeID: "a", ModifiedAt: ts}, {NodeID: "b", ModifiedAt: ts}, {NodeID: "c", ModifiedAt: ts}}

	SortByModified(items)

	assert.Equal(t, "a", items[0].NodeID)
	assert.Equal(t, "b", items[1].NodeID)
	assert.Equal(t, "c", items[2].NodeID)
}

func ptr(t time.Time) *time.Time { return &t }
