package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/stackup/pkg/types"
)

// Driver defines the volume create/remove primitives the scheduler needs
type Driver interface {
	// Create creates the volume and records its host path
	Create(volume *types.Volume) error

	// Delete removes the volume and its content
	Delete(volume *types.Volume) error

	// GetPath returns the host path for a volume
	GetPath(volume *types.Volume) string
}

// LocalDriver stores volumes as directories under a base path
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates a new local volume driver
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		return nil, fmt.Errorf("volume base path is required")
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}

	return &LocalDriver{
		basePath: basePath,
	}, nil
}

// Create creates the volume directory. Existing content is kept.
func (d *LocalDriver) Create(volume *types.Volume) error {
	volumePath := d.GetPath(volume)

	if err := os.MkdirAll(volumePath, 0755); err != nil {
		return fmt.Errorf("failed to create volume directory: %w", err)
	}

	volume.MountPath = volumePath
	if volume.CreatedAt.IsZero() {
		volume.CreatedAt = time.Now()
	}
	return nil
}

// Delete removes a local volume directory
func (d *LocalDriver) Delete(volume *types.Volume) error {
	volumePath := d.GetPath(volume)

	if _, err := os.Stat(volumePath); os.IsNotExist(err) {
		return nil // Already deleted
	}

	if err := os.RemoveAll(volumePath); err != nil {
		return fmt.Errorf("failed to delete volume directory: %w", err)
	}

	return nil
}

// GetPath returns the host path for a volume
func (d *LocalDriver) GetPath(volume *types.Volume) string {
	return filepath.Join(d.basePath, volume.ID)
}

// ID returns the deterministic volume id for a project and volume name
func ID(project, name string) string {
	return fmt.Sprintf("%s-%s", project, name)
}
