package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	downloadsBucket = "downloads"
	metadataBucket  = "metadata"
	schemaVersion   = 1
)

var (
	// ErrDownloadNotFound is returned when no model is stored for an id.
	ErrDownloadNotFound = errors.New("download not found")
	ErrNilModel         = errors.New("cannot insert nil model")
	ErrEmptyID          = errors.New("download ID cannot be empty")
)

// BboltRepository implements Repository on a single bbolt file.
type BboltRepository struct {
	db *bbolt.DB
}

// NewBboltRepository creates a new bbolt repository, creating the parent
// directory of dbPath if needed.
func NewBboltRepository(dbPath string) (*BboltRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := &bbolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bbolt.Open(dbPath, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &BboltRepository{
		db: db,
	}

	if err := repo.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// initialize sets up buckets and schema
func (r *BboltRepository) initialize() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(downloadsBucket))
		if err != nil {
			return fmt.Errorf("failed to create downloads bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("failed to create metadata bucket: %w", err)
		}

		versionBytes := []byte(fmt.Sprintf("%d", schemaVersion))

		err = meta.Put([]byte("schema_version"), versionBytes)
		if err != nil {
			return fmt.Errorf("failed to store schema version: %w", err)
		}

		return nil
	})
}

// Insert stores model, replacing any previous model with the same id.
func (r *BboltRepository) Insert(model *DownloadModel) error {
	if model == nil {
		return ErrNilModel
	}

	if model.ID == uuid.Nil {
		return ErrEmptyID
	}

	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := downloads(tx)
		if err != nil {
			return err
		}

		err = bucket.Put([]byte(model.ID.String()), data)
		if err != nil {
			return fmt.Errorf("failed to save model: %w", err)
		}

		return nil
	})
}

// Find retrieves a model by ID.
func (r *BboltRepository) Find(id uuid.UUID) (*DownloadModel, error) {
	if id == uuid.Nil {
		return nil, ErrEmptyID
	}

	var model DownloadModel

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket, err := downloads(tx)
		if err != nil {
			return err
		}

		data := bucket.Get([]byte(id.String()))
		if data == nil {
			return ErrDownloadNotFound
		}

		if err := json.Unmarshal(data, &model); err != nil {
			return fmt.Errorf("failed to unmarshal model: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &model, nil
}

// UpdateProgress records a checkpoint for an existing model.
func (r *BboltRepository) UpdateProgress(id uuid.UUID, downloaded int64, at time.Time) error {
	if id == uuid.Nil {
		return ErrEmptyID
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := downloads(tx)
		if err != nil {
			return err
		}

		key := []byte(id.String())

		data := bucket.Get(key)
		if data == nil {
			return ErrDownloadNotFound
		}

		var model DownloadModel
		if err := json.Unmarshal(data, &model); err != nil {
			return fmt.Errorf("failed to unmarshal model: %w", err)
		}

		model.DownloadedBytes = downloaded
		model.LastModifiedAt = at

		updated, err := json.Marshal(&model)
		if err != nil {
			return fmt.Errorf("failed to marshal model: %w", err)
		}

		return bucket.Put(key, updated)
	})
}

// Remove deletes the model for id.
func (r *BboltRepository) Remove(id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrEmptyID
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := downloads(tx)
		if err != nil {
			return err
		}

		if bucket.Get([]byte(id.String())) == nil {
			return ErrDownloadNotFound
		}

		return bucket.Delete([]byte(id.String()))
	})
}

// FindAll retrieves all models.
func (r *BboltRepository) FindAll() ([]*DownloadModel, error) {
	return r.filter(func(*DownloadModel) bool { return true })
}

// FindOlderThan retrieves models whose last checkpoint is before cutoff.
func (r *BboltRepository) FindOlderThan(cutoff time.Time) ([]*DownloadModel, error) {
	return r.filter(func(m *DownloadModel) bool {
		return m.LastModifiedAt.Before(cutoff)
	})
}

func (r *BboltRepository) filter(keep func(*DownloadModel) bool) ([]*DownloadModel, error) {
	var models []*DownloadModel

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket, err := downloads(tx)
		if err != nil {
			return err
		}

		return bucket.ForEach(func(k, v []byte) error {
			model := &DownloadModel{}

			if err := json.Unmarshal(v, model); err != nil {
				return fmt.Errorf("failed to unmarshal model %s: %w", k, err)
			}

			if keep(model) {
				models = append(models, model)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return models, nil
}

// Close closes the database
func (r *BboltRepository) Close() error {
	return r.db.Close()
}

func downloads(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bucket := tx.Bucket([]byte(downloadsBucket))
	if bucket == nil {
		return nil, fmt.Errorf("bucket not found: %s", downloadsBucket)
	}

	return bucket, nil
}
