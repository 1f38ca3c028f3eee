package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTopology []byte

// DefaultName is reported as the source of the embedded topology
const DefaultName = "<default>"

// File is a topology document as written by the user. String fields are
// templates until rendered.
type File struct {
	Project       string               `yaml:"project" toml:"project"`
	Values        map[string]string    `yaml:"values" toml:"values"`
	Trust         TrustConfig          `yaml:"trust" toml:"trust"`
	Services      []ServiceConfig      `yaml:"services" toml:"services"`
	PostBootstrap *PostBootstrapConfig `yaml:"postBootstrap" toml:"post_bootstrap"`

	source string
}

// Source returns the path the file was loaded from
func (f *File) Source() string { return f.source }

// TrustConfig controls the generated trust material
type TrustConfig struct {
	Organization string   `yaml:"organization" toml:"organization"`
	KeyBits      int      `yaml:"keyBits" toml:"key_bits"`
	ProxyHost    string   `yaml:"proxyHost" toml:"proxy_host"`
	ProxyNames   []string `yaml:"proxyNames" toml:"proxy_names"`
	ProxyIPs     []string `yaml:"proxyIPs" toml:"proxy_ips"`
}

// ServiceConfig describes one service
type ServiceConfig struct {
	ID          string              `yaml:"id" toml:"id"`
	Image       string              `yaml:"image" toml:"image"`
	DependsOn   []string            `yaml:"dependsOn" toml:"depends_on"`
	Env         []string            `yaml:"env" toml:"env"`
	Args        []string            `yaml:"args" toml:"args"`
	Volume      *VolumeConfig       `yaml:"volume" toml:"volume"`
	Seed        []SeedConfig        `yaml:"seed" toml:"seed"`
	Readiness   ProbeConfig         `yaml:"readiness" toml:"readiness"`
	StopTimeout string              `yaml:"stopTimeout" toml:"stop_timeout"`
	Trust       *ServiceTrustConfig `yaml:"trust" toml:"trust"`
}

// VolumeConfig binds a named volume into the container
type VolumeConfig struct {
	Name   string `yaml:"name" toml:"name"`
	Target string `yaml:"target" toml:"target"`
}

// SeedConfig is one file or directory materialized into the volume. Content
// and Source are mutually exclusive; Source is a host path read at render
// time.
type SeedConfig struct {
	Dest      string `yaml:"dest" toml:"dest"`
	Content   string `yaml:"content" toml:"content"`
	Source    string `yaml:"source" toml:"source"`
	Mode      string `yaml:"mode" toml:"mode"`
	UID       *int   `yaml:"uid" toml:"uid"`
	GID       *int   `yaml:"gid" toml:"gid"`
	Directory bool   `yaml:"directory" toml:"directory"`
}

// ProbeConfig is the readiness probe of a service
type ProbeConfig struct {
	Type           string            `yaml:"type" toml:"type"`
	Target         string            `yaml:"target" toml:"target"`
	Command        []string          `yaml:"command" toml:"command"`
	JSONField      string            `yaml:"jsonField" toml:"json_field"`
	ReadyValues    []string          `yaml:"readyValues" toml:"ready_values"`
	ErrorValues    []string          `yaml:"errorValues" toml:"error_values"`
	StatusMin      int               `yaml:"statusMin" toml:"status_min"`
	StatusMax      int               `yaml:"statusMax" toml:"status_max"`
	FatalStatus    []int             `yaml:"fatalStatus" toml:"fatal_status"`
	Method         string            `yaml:"method" toml:"method"`
	Headers        map[string]string `yaml:"headers" toml:"headers"`
	Service        string            `yaml:"service" toml:"service"`
	Interval       string            `yaml:"interval" toml:"interval"`
	Timeout        string            `yaml:"timeout" toml:"timeout"`
	AttemptTimeout string            `yaml:"attemptTimeout" toml:"attempt_timeout"`
}

// ServiceTrustConfig marks a service as requiring the trust bootstrap
type ServiceTrustConfig struct {
	Alias   string   `yaml:"alias" toml:"alias"`
	Path    string   `yaml:"path" toml:"path"`
	Command []string `yaml:"command" toml:"command"`
	Marker  string   `yaml:"marker" toml:"marker"`
}

// PostBootstrapConfig is the management setup applied once a service is
// ready
type PostBootstrapConfig struct {
	After    string          `yaml:"after" toml:"after"`
	BaseURL  string          `yaml:"baseURL" toml:"base_url"`
	Username string          `yaml:"username" toml:"username"`
	Password string          `yaml:"password" toml:"password"`
	Projects []ProjectConfig `yaml:"projects" toml:"projects"`
}

// ProjectConfig is a project and its repositories
type ProjectConfig struct {
	Key          string             `yaml:"key" toml:"key"`
	Name         string             `yaml:"name" toml:"name"`
	Description  string             `yaml:"description" toml:"description"`
	Repositories []RepositoryConfig `yaml:"repositories" toml:"repositories"`
}

// RepositoryConfig is a repository inside a project
type RepositoryConfig struct {
	Name          string `yaml:"name" toml:"name"`
	ScmID         string `yaml:"scmId" toml:"scm_id"`
	DefaultBranch string `yaml:"defaultBranch" toml:"default_branch"`
	Forkable      *bool  `yaml:"forkable" toml:"forkable"`
}

// Load reads a topology file. The format follows the extension: .toml is
// TOML, anything else YAML. An empty path loads the embedded default.
func Load(path string) (*File, error) {
	if path == "" {
		return Parse(defaultTopology, DefaultName, "yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Parse(data, path, format)
}

// Parse decodes a topology document in the given format ("yaml" or "toml")
func Parse(data []byte, source, format string) (*File, error) {
	var f File
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", source, err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", source, err)
		}
	default:
		return nil, fmt.Errorf("unsupported topology format %q", format)
	}

	f.source = source
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return &f, nil
}

// Default returns the raw embedded topology
func Default() []byte {
	out := make([]byte, len(defaultTopology))
	copy(out, defaultTopology)
	return out
}
