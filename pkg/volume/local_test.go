package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/stackup/pkg/types"
)

func TestNewLocalDriver(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "volumes")

	driver, err := NewLocalDriver(tmpDir)
	if err != nil {
		t.Fatalf("NewLocalDriver() error = %v", err)
	}

	if driver.basePath != tmpDir {
		t.Errorf("basePath = %v, want %v", driver.basePath, tmpDir)
	}

	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		t.Error("Base directory was not created")
	}
}

func TestNewLocalDriver_EmptyPath(t *testing.T) {
	if _, err := NewLocalDriver(""); err == nil {
		t.Error("NewLocalDriver(\"\") should return error")
	}
}

func TestLocalDriver_Create(t *testing.T) {
	driver, _ := NewLocalDriver(t.TempDir())

	volume := &types.Volume{
		ID:     ID("demo", "primary-home"),
		Name:   "primary-home",
		Driver: "local",
	}

	if err := driver.Create(volume); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	volumePath := driver.GetPath(volume)
	if _, err := os.Stat(volumePath); os.IsNotExist(err) {
		t.Errorf("Volume directory was not created at %s", volumePath)
	}
	if volume.MountPath != volumePath {
		t.Errorf("MountPath = %v, want %v", volume.MountPath, volumePath)
	}
	if filepath.Base(volumePath) != "demo-primary-home" {
		t.Errorf("volume path base = %v, want demo-primary-home", filepath.Base(volumePath))
	}
	if volume.CreatedAt.IsZero() {
		t.Error("CreatedAt was not set")
	}
}

func TestLocalDriver_CreateKeepsContent(t *testing.T) {
	driver, _ := NewLocalDriver(t.TempDir())
	volume := &types.Volume{ID: "keep", Driver: "local"}

	if err := driver.Create(volume); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	marker := filepath.Join(volume.MountPath, "marker")
	if err := os.WriteFile(marker, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := driver.Create(volume); err != nil {
		t.Fatalf("second Create() error = %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("content lost on second Create(): %v", err)
	}
}

func TestLocalDriver_Delete(t *testing.T) {
	driver, _ := NewLocalDriver(t.TempDir())

	volume := &types.Volume{
		ID:     "test-volume",
		Name:   "test",
		Driver: "local",
	}

	if err := driver.Create(volume); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	volumePath := driver.GetPath(volume)

	testFile := filepath.Join(volumePath, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := driver.Delete(volume); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := os.Stat(volumePath); !os.IsNotExist(err) {
		t.Error("Volume directory still exists after delete")
	}
}

func TestLocalDriver_Delete_NonExistent(t *testing.T) {
	driver, _ := NewLocalDriver(t.TempDir())

	volume := &types.Volume{
		ID:     "nonexistent",
		Name:   "test",
		Driver: "local",
	}

	if err := driver.Delete(volume); err != nil {
		t.Errorf("Delete() on non-existent volume error = %v, want nil", err)
	}
}
