package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stackup/pkg/registry"
	"github.com/cuemby/stackup/pkg/types"
)

const yamlTopology = `
project: demo
values:
  password: '{{ env "DEMO_PASSWORD" | default "fallback" }}'
  host: localhost
services:
  - id: db
    image: postgres:16
    env: ["POSTGRES_PASSWORD={{ .Values.password }}"]
    volume: {name: db-data, target: /var/lib/postgresql/data}
    seed:
      - dest: init
        directory: true
      - dest: init/01.sql
        content: "CREATE DATABASE {{ .Project }};"
        uid: 999
      - dest: conf/key.pem
        source: '{{ .Workdir }}/key.pem'
        mode: "0600"
    readiness:
      type: exec
      command: [pg_isready]
      interval: 2s
      timeout: 1m
  - id: app
    image: app:latest
    dependsOn: [db]
    readiness:
      type: HTTP
      target: 'http://{{ .Values.host }}:8080/status'
      jsonField: state
      readyValues: [RUNNING]
      fatalStatus: [500]
      method: head
      headers:
        Authorization: 'Bearer {{ .Values.password }}'
    stopTimeout: 45s
    trust: {}
postBootstrap:
  after: app
  baseURL: 'http://{{ .Values.host }}:8080'
  username: admin
  password: '{{ .Values.password }}'
  projects:
    - key: DEMO
      name: Demo
      repositories:
        - name: one
        - name: two
          forkable: false
`

func renderYAML(t *testing.T, env map[string]string) *Topology {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key.pem"), []byte("KEY"), 0600))

	f, err := Parse([]byte(yamlTopology), "test.yaml", "yaml")
	require.NoError(t, err)

	topo, err := f.Render(RenderContext{Workdir: dir, Env: env})
	require.NoError(t, err)
	return topo
}

func TestRenderYAML(t *testing.T) {
	topo := renderYAML(t, nil)
	require.Len(t, topo.Services, 2)
	assert.Equal(t, "demo", topo.Project)

	db := topo.Services[0]
	assert.Equal(t, []string{"POSTGRES_PASSWORD=fallback"}, db.Env)
	assert.Equal(t, &types.VolumeMount{Name: "db-data", Target: "/var/lib/postgresql/data"}, db.Volume)
	assert.Equal(t, types.ProbeExec, db.Readiness.Type)
	assert.Equal(t, 2*time.Second, db.Readiness.Interval)
	assert.Equal(t, time.Minute, db.Readiness.Timeout)
	assert.False(t, db.RequiresTrustBootstrap)

	require.Len(t, db.SeedFiles, 3)
	dir := db.SeedFiles[0]
	assert.True(t, dir.IsDirectory)
	assert.Equal(t, os.FileMode(0755), dir.Mode)
	assert.Equal(t, -1, dir.UID)

	sql := db.SeedFiles[1]
	assert.Equal(t, "CREATE DATABASE demo;", string(sql.Content))
	assert.Equal(t, os.FileMode(0644), sql.Mode)
	assert.Equal(t, 999, sql.UID)
	assert.Equal(t, -1, sql.GID)

	key := db.SeedFiles[2]
	assert.Equal(t, "KEY", string(key.Content))
	assert.Equal(t, os.FileMode(0600), key.Mode)

	app := topo.Services[1]
	assert.Equal(t, types.ProbeHTTP, app.Readiness.Type)
	assert.Equal(t, "http://localhost:8080/status", app.Readiness.Target)
	assert.Equal(t, []int{500}, app.Readiness.FatalStatus)
	assert.Equal(t, "HEAD", app.Readiness.Method)
	assert.Equal(t, map[string]string{"Authorization": "Bearer fallback"}, app.Readiness.Headers)
	assert.Nil(t, db.Readiness.Headers)
	assert.Equal(t, 45*time.Second, app.StopTimeout)

	assert.True(t, app.RequiresTrustBootstrap)
	assert.Equal(t, "demo-root", app.Trust.Alias)
	assert.Equal(t, DefaultTrustPath, app.Trust.RemotePath)
	assert.Equal(t, KeytoolImport("demo-root", DefaultTrustPath), app.Trust.Command)
	assert.Equal(t, "already exists", app.Trust.AlreadyPresentMarker)

	pb := topo.PostBootstrap
	require.NotNil(t, pb)
	assert.Equal(t, "app", pb.After)
	assert.Equal(t, "http://localhost:8080", pb.Client.BaseURL)
	assert.Equal(t, "fallback", pb.Client.Password)
	require.Len(t, pb.Projects, 1)
	repos := pb.Projects[0].Repositories
	require.Len(t, repos, 2)
	assert.Equal(t, "git", repos[0].ScmID)
	assert.True(t, repos[0].Forkable)
	assert.False(t, repos[1].Forkable)
}

func TestRenderUsesEnvironment(t *testing.T) {
	topo := renderYAML(t, map[string]string{"DEMO_PASSWORD": "s3cret"})
	assert.Equal(t, []string{"POSTGRES_PASSWORD=s3cret"}, topo.Services[0].Env)
}

func TestRenderSkipSources(t *testing.T) {
	f, err := Parse([]byte(yamlTopology), "test.yaml", "yaml")
	require.NoError(t, err)

	topo, err := f.Render(RenderContext{Workdir: "/nonexistent", SkipSources: true})
	require.NoError(t, err)
	assert.Empty(t, topo.Services[0].SeedFiles[2].Content)

	_, err = f.Render(RenderContext{Workdir: "/nonexistent"})
	assert.Error(t, err)
}

func TestRenderMissingValue(t *testing.T) {
	doc := `
project: demo
services:
  - id: a
    image: '{{ .Values.missing }}'
    readiness: {type: tcp, target: "localhost:1"}
`
	f, err := Parse([]byte(doc), "test.yaml", "yaml")
	require.NoError(t, err)

	_, err = f.Render(RenderContext{})
	assert.ErrorContains(t, err, "image")
}

func TestParseTOML(t *testing.T) {
	doc := `
project = "demo"

[[services]]
id = "db"
image = "postgres:16"
[services.volume]
name = "db-data"
target = "/data"
[[services.seed]]
dest = "init.sql"
content = "SELECT 1;"
mode = "0640"
[services.readiness]
type = "tcp"
target = "localhost:5432"
interval = "1s"

[[services]]
id = "app"
image = "app:latest"
depends_on = ["db"]
[services.readiness]
type = "grpc"
target = "localhost:9090"
service = "app.v1"

[post_bootstrap]
after = "app"
base_url = "http://localhost:7990"
`
	f, err := Parse([]byte(doc), "test.toml", "toml")
	require.NoError(t, err)

	topo, err := f.Render(RenderContext{})
	require.NoError(t, err)
	require.Len(t, topo.Services, 2)
	assert.Equal(t, os.FileMode(0640), topo.Services[0].SeedFiles[0].Mode)
	assert.Equal(t, time.Second, topo.Services[0].Readiness.Interval)
	assert.Equal(t, []string{"db"}, topo.Services[1].DependsOn)
	assert.Equal(t, "app.v1", topo.Services[1].Readiness.Service)
	assert.Equal(t, "http://localhost:7990", topo.PostBootstrap.Client.BaseURL)
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.toml")
	doc := "project = \"demo\"\n[[services]]\nid = \"a\"\nimage = \"x\"\n[services.readiness]\ntype = \"tcp\"\ntarget = \"localhost:1\"\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, f.Source())
	assert.Equal(t, "a", f.Services[0].ID)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "bad project name",
			doc:  "project: Demo Stack\nservices: [{id: a, image: x, readiness: {type: tcp, target: 'h:1'}}]",
			want: "project name",
		},
		{
			name: "no services",
			doc:  "project: demo",
			want: "no services",
		},
		{
			name: "missing image",
			doc:  "project: demo\nservices: [{id: a, readiness: {type: tcp, target: 'h:1'}}]",
			want: "missing image",
		},
		{
			name: "seed without volume",
			doc:  "project: demo\nservices: [{id: a, image: x, seed: [{dest: f}], readiness: {type: tcp, target: 'h:1'}}]",
			want: "need a volume",
		},
		{
			name: "shared volume",
			doc: "project: demo\nservices:\n" +
				"  - {id: a, image: x, volume: {name: v, target: /d}, readiness: {type: tcp, target: 'h:1'}}\n" +
				"  - {id: b, image: x, volume: {name: v, target: /d}, readiness: {type: tcp, target: 'h:1'}}",
			want: "already used",
		},
		{
			name: "content and source",
			doc:  "project: demo\nservices: [{id: a, image: x, volume: {name: v, target: /d}, seed: [{dest: f, content: c, source: s}], readiness: {type: tcp, target: 'h:1'}}]",
			want: "exclusive",
		},
		{
			name: "unknown probe",
			doc:  "project: demo\nservices: [{id: a, image: x, readiness: {type: udp}}]",
			want: "unknown readiness probe",
		},
		{
			name: "exec without command",
			doc:  "project: demo\nservices: [{id: a, image: x, readiness: {type: exec}}]",
			want: "needs a command",
		},
		{
			name: "method on tcp probe",
			doc:  "project: demo\nservices: [{id: a, image: x, readiness: {type: tcp, target: 'h:1', method: POST}}]",
			want: "does not take a method",
		},
		{
			name: "post-bootstrap unknown service",
			doc:  "project: demo\nservices: [{id: a, image: x, readiness: {type: tcp, target: 'h:1'}}]\npostBootstrap: {after: b, baseURL: 'http://h'}",
			want: "unknown service",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "test.yaml", "yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInvalidDurationAndMode(t *testing.T) {
	doc := "project: demo\nservices: [{id: a, image: x, volume: {name: v, target: /d}, seed: [{dest: f, mode: '0999'}], readiness: {type: tcp, target: 'h:1'}}]"
	f, err := Parse([]byte(doc), "test.yaml", "yaml")
	require.NoError(t, err)
	_, err = f.Render(RenderContext{})
	assert.ErrorContains(t, err, "invalid octal mode")

	doc = "project: demo\nservices: [{id: a, image: x, readiness: {type: tcp, target: 'h:1', timeout: soon}}]"
	f, err = Parse([]byte(doc), "test.yaml", "yaml")
	require.NoError(t, err)
	_, err = f.Render(RenderContext{})
	assert.ErrorContains(t, err, "readiness.timeout")
}

func TestDefaultTopology(t *testing.T) {
	f, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, f.Source())

	topo, err := f.Render(RenderContext{Workdir: t.TempDir(), SkipSources: true})
	require.NoError(t, err)

	reg, err := registry.New(topo.Services)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"db", "search"}, {"primary"}, {"proxy"}, {"mirror"}}, reg.Layers())

	mirror, ok := reg.Get("mirror")
	require.True(t, ok)
	assert.True(t, mirror.RequiresTrustBootstrap)
	assert.Equal(t, "stackup-root", mirror.Trust.Alias)

	require.NotNil(t, topo.PostBootstrap)
	assert.Equal(t, "primary", topo.PostBootstrap.After)
	assert.Equal(t, "admin", topo.PostBootstrap.Client.Username)
	assert.Len(t, topo.Trust.ProxyIPs, 1)
}
