package volume

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/stackup/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVolume(t *testing.T) *types.Volume {
	t.Helper()
	driver, err := NewLocalDriver(t.TempDir())
	require.NoError(t, err)

	volume := &types.Volume{ID: "demo-primary", Name: "primary", Driver: "local"}
	require.NoError(t, driver.Create(volume))
	return volume
}

func seedFiles() []types.SeedFile {
	return []types.SeedFile{
		{
			Content:     []byte("jdbc.url=jdbc:postgresql://localhost:5432/app\n"),
			Destination: "shared/app.properties",
			Mode:        0640,
			UID:         -1,
			GID:         -1,
		},
		{
			Content:     []byte("-----BEGIN CERTIFICATE-----\n"),
			Destination: "shared/config/ssh/key.pem",
			Mode:        0600,
			UID:         os.Getuid(),
			GID:         os.Getgid(),
		},
		{
			Destination: "shared/config/ssh",
			Mode:        0700,
			UID:         -1,
			GID:         -1,
			IsDirectory: true,
		},
	}
}

type snapshot struct {
	content []byte
	mode    os.FileMode
}

func snapshotTree(t *testing.T, root string) map[string]snapshot {
	t.Helper()
	out := make(map[string]snapshot)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		s := snapshot{mode: info.Mode()}
		if !info.IsDir() {
			s.content, err = os.ReadFile(path)
			if err != nil {
				return err
			}
		}
		out[rel] = s
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestSeed(t *testing.T) {
	volume := newVolume(t)
	seeder := NewSeeder()

	require.NoError(t, seeder.Seed(volume, seedFiles()))

	props := filepath.Join(volume.MountPath, "shared", "app.properties")
	data, err := os.ReadFile(props)
	require.NoError(t, err)
	assert.Equal(t, "jdbc.url=jdbc:postgresql://localhost:5432/app\n", string(data))

	info, err := os.Stat(props)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	// Directory mode is applied to the whole subtree
	for _, rel := range []string{"shared/config/ssh", "shared/config/ssh/key.pem"} {
		info, err := os.Stat(filepath.Join(volume.MountPath, rel))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm(), rel)
	}
}

func TestSeedIdempotent(t *testing.T) {
	volume := newVolume(t)
	seeder := NewSeeder()

	require.NoError(t, seeder.Seed(volume, seedFiles()))
	first := snapshotTree(t, volume.MountPath)

	require.NoError(t, seeder.Seed(volume, seedFiles()))
	second := snapshotTree(t, volume.MountPath)

	assert.Equal(t, first, second)
}

func TestSeedRestoresDriftedPermissions(t *testing.T) {
	volume := newVolume(t)
	seeder := NewSeeder()
	files := seedFiles()[:1]

	require.NoError(t, seeder.Seed(volume, files))
	props := filepath.Join(volume.MountPath, "shared", "app.properties")
	require.NoError(t, os.Chmod(props, 0666))
	require.NoError(t, os.WriteFile(props, []byte("tampered"), 0666))

	require.NoError(t, seeder.Seed(volume, files))

	info, err := os.Stat(props)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
	data, _ := os.ReadFile(props)
	assert.Equal(t, string(files[0].Content), string(data))
}

func TestSeedLeavesNoTempFiles(t *testing.T) {
	volume := newVolume(t)
	require.NoError(t, NewSeeder().Seed(volume, seedFiles()[:1]))

	entries, err := os.ReadDir(filepath.Join(volume.MountPath, "shared"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".seed-")
	}
}

func TestSeedRejectsEscapingPaths(t *testing.T) {
	volume := newVolume(t)

	for _, dest := range []string{"../outside", "/etc/passwd", "", "."} {
		t.Run(dest, func(t *testing.T) {
			err := NewSeeder().Seed(volume, []types.SeedFile{{Destination: dest, Mode: 0644, UID: -1, GID: -1}})

			var seedErr *types.SeedError
			require.True(t, errors.As(err, &seedErr))
			assert.Equal(t, dest, seedErr.Path)
		})
	}
}

func TestSeedFailureKeepsPreviousContent(t *testing.T) {
	volume := newVolume(t)
	seeder := NewSeeder()
	files := seedFiles()[:1]
	require.NoError(t, seeder.Seed(volume, files))

	// A directory where a file's parent should be makes the write fail
	blocked := types.SeedFile{
		Content:     []byte("x"),
		Destination: "shared/app.properties/nested",
		Mode:        0644,
		UID:         -1,
		GID:         -1,
	}
	err := seeder.Seed(volume, []types.SeedFile{blocked})

	var seedErr *types.SeedError
	require.True(t, errors.As(err, &seedErr))
	assert.Equal(t, "shared/app.properties/nested", seedErr.Path)
	assert.Error(t, seedErr.Unwrap())

	data, readErr := os.ReadFile(filepath.Join(volume.MountPath, "shared", "app.properties"))
	require.NoError(t, readErr)
	assert.Equal(t, string(files[0].Content), string(data))
}

func TestSeedRequiresHostPath(t *testing.T) {
	err := NewSeeder().Seed(&types.Volume{ID: "unmounted"}, seedFiles())

	var seedErr *types.SeedError
	assert.True(t, errors.As(err, &seedErr))
}
