package trust

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stackup/pkg/runtime/runtimetest"
	"github.com/cuemby/stackup/pkg/types"
)

var spec = types.TrustSpec{
	Alias:      "stackup-root",
	RemotePath: "/tmp/stackup-root.pem",
	Command:    []string{"keytool", "-importcert", "-noprompt", "-alias", "stackup-root", "-file", "/tmp/stackup-root.pem", "-cacerts", "-storepass", "changeit"},
}

func setup(t *testing.T) (*runtimetest.Runtime, *types.TrustRequest) {
	t.Helper()
	rt := runtimetest.New("demo")
	handle, err := rt.Launch(context.Background(), &types.ServiceSpec{ID: "mirror"}, nil)
	require.NoError(t, err)
	return rt, &types.TrustRequest{
		ServiceID:   "mirror",
		Target:      handle,
		Certificate: []byte("-----BEGIN CERTIFICATE-----"),
	}
}

func TestImportClean(t *testing.T) {
	rt, req := setup(t)

	warning := NewBootstrapper(rt).Import(context.Background(), req, spec)
	assert.Nil(t, warning)
	assert.True(t, req.Attempted)

	f, ok := rt.File(req.Target, spec.RemotePath)
	require.True(t, ok)
	assert.Equal(t, req.Certificate, f.Content)

	execs := rt.CallsFor(req.Target, runtimetest.OpExec)
	require.Len(t, execs, 1)
	assert.Equal(t, spec.Command, execs[0].Command)
}

func TestImportAlreadyPresent(t *testing.T) {
	rt, req := setup(t)
	rt.ExecFunc = func(string, []string) (*types.ExecResult, error) {
		return &types.ExecResult{ExitCode: 1, Stdout: "keytool error: java.lang.Exception: Certificate not imported, alias <stackup-root> already exists"}, nil
	}

	warning := NewBootstrapper(rt).Import(context.Background(), req, spec)
	require.NotNil(t, warning)
	assert.True(t, warning.AlreadyPresent)
	assert.NoError(t, warning.Unwrap())
}

func TestImportCustomMarker(t *testing.T) {
	rt, req := setup(t)
	rt.ExecFunc = func(string, []string) (*types.ExecResult, error) {
		return &types.ExecResult{ExitCode: 3, Stderr: "DUPLICATE ALIAS"}, nil
	}
	s := spec
	s.AlreadyPresentMarker = "duplicate alias"

	warning := NewBootstrapper(rt).Import(context.Background(), req, s)
	require.NotNil(t, warning)
	assert.True(t, warning.AlreadyPresent)
}

func TestImportFailed(t *testing.T) {
	rt, req := setup(t)
	rt.ExecFunc = func(string, []string) (*types.ExecResult, error) {
		return &types.ExecResult{ExitCode: 1, Stderr: "keystore password was incorrect"}, nil
	}

	warning := NewBootstrapper(rt).Import(context.Background(), req, spec)
	require.NotNil(t, warning)
	assert.False(t, warning.AlreadyPresent)
	assert.Contains(t, warning.Error(), "password was incorrect")
}

func TestImportCopyFailed(t *testing.T) {
	rt, req := setup(t)
	rt.CopyErr["mirror"] = errors.New("read-only file system")

	warning := NewBootstrapper(rt).Import(context.Background(), req, spec)
	require.NotNil(t, warning)
	assert.False(t, warning.AlreadyPresent)
	assert.Empty(t, rt.CallsFor(req.Target, runtimetest.OpExec))
	assert.True(t, req.Attempted)
}
