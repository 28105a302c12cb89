package models

import (
	"testing"
	"time"
)

func TestDocument_Struct(t *testing.T) {
	now := time.Now()
	doc := Document{
		ID:         "doc-123",
		UserID:     "alice",
		HostPath:   "/uploads/alice/report.pdf",
		Name:       "report.pdf",
		UploadedAt: now,
	}

	if doc.ID != "doc-123" {
		t.Errorf("ID = %q, want %q", doc.ID, "doc-123")
	}
	if doc.UserID != "alice" {
		t.Errorf("UserID = %q, want %q", doc.UserID, "alice")
	}
	if doc.UploadedAt != now {
		t.Errorf("UploadedAt = %v, want %v", doc.UploadedAt, now)
	}
}
