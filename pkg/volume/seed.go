package volume

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/stackup/pkg/log"
	"github.com/cuemby/stackup/pkg/types"
	"github.com/rs/zerolog"
)

// Seeder materializes seed files into a volume. Seeding the same input twice
// yields the same content, ownership and permission bits.
type Seeder struct {
	logger zerolog.Logger
}

// NewSeeder creates a new seeder
func NewSeeder() *Seeder {
	return &Seeder{logger: log.WithComponent("seeder")}
}

// Seed writes every file into the volume. Each regular file is replaced
// atomically; on error the destination keeps its previous content and a
// *types.SeedError is returned.
func (s *Seeder) Seed(volume *types.Volume, files []types.SeedFile) error {
	if volume.MountPath == "" {
		return &types.SeedError{Path: volume.ID, Cause: fmt.Errorf("volume has no host path")}
	}

	for _, f := range files {
		dest, err := resolve(volume.MountPath, f.Destination)
		if err != nil {
			return &types.SeedError{Path: f.Destination, Cause: err}
		}

		if f.IsDirectory {
			err = seedDirectory(dest, f)
		} else {
			err = seedFile(dest, f)
		}
		if err != nil {
			return &types.SeedError{Path: f.Destination, Cause: err}
		}

		s.logger.Debug().
			Str("volume", volume.ID).
			Str("path", f.Destination).
			Str("mode", f.Mode.String()).
			Bool("directory", f.IsDirectory).
			Msg("seeded")
	}

	return nil
}

func seedFile(dest string, f types.SeedFile) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".seed-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(f.Content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := applyAttributes(tmpPath, f); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return err
	}
	committed = true
	return nil
}

// seedDirectory creates the directory and applies mode and ownership to the
// whole subtree, deepest entries first so a restrictive mode on a parent
// never blocks the walk.
func seedDirectory(dest string, f types.SeedFile) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	var paths []string
	err := filepath.WalkDir(dest, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return err
	}

	for i := len(paths) - 1; i >= 0; i-- {
		if err := applyAttributes(paths[i], f); err != nil {
			return err
		}
	}
	return nil
}

func applyAttributes(path string, f types.SeedFile) error {
	if f.UID >= 0 || f.GID >= 0 {
		if err := os.Lchown(path, f.UID, f.GID); err != nil {
			return err
		}
	}
	return os.Chmod(path, f.Mode.Perm())
}

func resolve(root, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", fmt.Errorf("missing destination path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("destination %q must be relative to the volume", rel)
	}

	p := filepath.Clean(filepath.Join(root, rel))
	r := filepath.Clean(root)
	if p == r || !strings.HasPrefix(p, r+string(os.PathSeparator)) {
		return "", fmt.Errorf("destination %q escapes the volume", rel)
	}
	return p, nil
}
