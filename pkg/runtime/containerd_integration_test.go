//go:build integration

package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stackup/pkg/types"
)

// TestContainerdLifecycle runs the calls the scheduler makes against a real
// containerd: launch → status → copy → exec → restart → list → remove
func TestContainerdLifecycle(t *testing.T) {
	project := "it-" + uuid.NewString()[:8]
	rt, err := NewContainerdRuntime(Options{Project: project, LogDir: t.TempDir()})
	if err != nil {
		t.Skipf("containerd not available: %v", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	spec := &types.ServiceSpec{
		ID:    "web",
		Image: "docker.io/library/nginx:alpine",
		Env:   []string{"TEST=integration"},
	}

	handle, err := rt.Launch(ctx, spec, nil)
	require.NoError(t, err)
	defer rt.Remove(context.Background(), handle)
	assert.Equal(t, Handle(project, "web"), handle)

	status, err := rt.InspectStatus(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, types.RuntimeRunning, status)

	require.NoError(t, rt.CopyInto(ctx, handle, []byte("hello"), "/tmp/greeting", 0644))
	res, err := rt.Exec(ctx, handle, []string{"cat", "/tmp/greeting"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello", res.Stdout)

	require.NoError(t, rt.Restart(ctx, handle, 10*time.Second))
	status, err = rt.InspectStatus(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, types.RuntimeRunning, status)

	handles, err := rt.List(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, []string{handle}, handles)

	require.NoError(t, rt.Remove(ctx, handle))
	require.NoError(t, rt.Remove(ctx, handle))

	handles, err = rt.List(ctx, project)
	require.NoError(t, err)
	assert.Empty(t, handles)
}
