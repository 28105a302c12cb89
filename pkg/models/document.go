// Package models defines the core data types shared across the engine.
package models

import "time"

// Document is an uploaded file belonging to a user, mounted into the
// sandbox at /data.
type Document struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	HostPath   string    `json:"host_path"`
	Name       string    `json:"name"`
	UploadedAt time.Time `json:"uploaded_at"`
}
