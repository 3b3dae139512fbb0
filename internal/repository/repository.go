package repository

import (
	"time"

	"github.com/google/uuid"
)

// DownloadModel is the persisted progress of a resumable download.
type DownloadModel struct {
	ID              uuid.UUID `json:"id"`
	URL             string    `json:"url"`
	ETag            string    `json:"etag,omitempty"`
	Dir             string    `json:"dir"`
	Filename        string    `json:"filename"`
	TotalBytes      int64     `json:"totalBytes"`
	DownloadedBytes int64     `json:"downloadedBytes"`
	LastModifiedAt  time.Time `json:"lastModifiedAt"`
}

type Repository interface {
	Find(id uuid.UUID) (*DownloadModel, error)
	Insert(model *DownloadModel) error
	UpdateProgress(id uuid.UUID, downloaded int64, at time.Time) error
	Remove(id uuid.UUID) error
	FindAll() ([]*DownloadModel, error)
	FindOlderThan(cutoff time.Time) ([]*DownloadModel, error)
	Close() error
}

var _ Repository = (*BboltRepository)(nil)
