package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/stackup/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// DBFile is the store's file name inside its directory
const DBFile = "state.db"

var (
	// Bucket names
	bucketReports   = []byte("reports")
	bucketInstances = []byte("instances")
	bucketVolumes   = []byte("volumes")
	bucketMeta      = []byte("meta")

	keyLatest = []byte("latest")
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// BoltStore implements Store using bbolt
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, DBFile)

	// A concurrent run holds the file lock; fail instead of blocking forever
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketReports,
			bucketInstances,
			bucketVolumes,
			bucketMeta,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Reset empties the run-scoped buckets. Volumes are kept because they
// outlive a run until teardown.
func (s *BoltStore) Reset() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketReports, bucketInstances, bucketMeta} {
			if err := tx.DeleteBucket(bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

// Report operations
func (s *BoltStore) SaveReport(report *types.Report) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(report)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketReports).Put([]byte(report.RunID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyLatest, []byte(report.RunID))
	})
}

func (s *BoltStore) GetReport(runID string) (*types.Report, error) {
	var report types.Report
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReports).Get([]byte(runID))
		if data == nil {
			return fmt.Errorf("report %s: %w", runID, ErrNotFound)
		}
		return json.Unmarshal(data, &report)
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *BoltStore) LatestReport() (*types.Report, error) {
	var runID string
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketMeta).Get(keyLatest)
		if id == nil {
			return fmt.Errorf("latest report: %w", ErrNotFound)
		}
		runID = string(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetReport(runID)
}

// Instance operations
func (s *BoltStore) SaveInstance(record *InstanceRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketInstances).Put([]byte(record.ID), data)
	})
}

func (s *BoltStore) ListInstances() ([]*InstanceRecord, error) {
	var records []*InstanceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var record InstanceRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

// Volume operations
func (s *BoltStore) SaveVolume(volume *types.Volume) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(volume)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketVolumes).Put([]byte(volume.ID), data)
	})
}

func (s *BoltStore) ListVolumes() ([]*types.Volume, error) {
	var volumes []*types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
			var volume types.Volume
			if err := json.Unmarshal(v, &volume); err != nil {
				return err
			}
			volumes = append(volumes, &volume)
			return nil
		})
	})
	return volumes, err
}

func (s *BoltStore) DeleteVolume(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).Delete([]byte(id))
	})
}
