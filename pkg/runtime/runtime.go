package runtime

import (
	"context"
	"os"
	"time"

	"github.com/cuemby/stackup/pkg/types"
)

// LabelProject marks every container created for a topology
const LabelProject = "io.stackup.project"

// LabelService holds the service id of a container
const LabelService = "io.stackup.service"

// Runtime is the container collaborator the scheduler drives. Handles are
// opaque strings returned by Launch.
type Runtime interface {
	// Launch creates and starts the instance for spec with volume mounted at
	// its target. Any previous instance with the same handle is replaced.
	Launch(ctx context.Context, spec *types.ServiceSpec, volume *types.Volume) (string, error)

	// Restart stops the instance, waiting up to timeout before killing it,
	// and starts it again with the same configuration and volume.
	Restart(ctx context.Context, handle string, timeout time.Duration) error

	// Exec runs command inside the instance and returns its output
	Exec(ctx context.Context, handle string, command []string) (*types.ExecResult, error)

	// CopyInto writes content to path inside the instance
	CopyInto(ctx context.Context, handle string, content []byte, path string, mode os.FileMode) error

	// InspectStatus reports whether the instance process is running
	InspectStatus(ctx context.Context, handle string) (types.RuntimeStatus, error)

	// Remove stops and deletes the instance. Removing an unknown handle is
	// not an error.
	Remove(ctx context.Context, handle string) error

	// List returns the handles of every instance belonging to project
	List(ctx context.Context, project string) ([]string, error)
}

// Handle returns the instance handle for a service of a project
func Handle(project, serviceID string) string {
	if project == "" {
		return serviceID
	}
	return project + "-" + serviceID
}
