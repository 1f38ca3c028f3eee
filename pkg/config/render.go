package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/cuemby/stackup/pkg/postboot"
	"github.com/cuemby/stackup/pkg/trust"
	"github.com/cuemby/stackup/pkg/types"
)

// DefaultTrustPath is where the root certificate is copied inside a container
const DefaultTrustPath = "/tmp/stackup-root-ca.crt"

var projectName = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Topology is a rendered, validated topology ready to be scheduled
type Topology struct {
	Project       string
	Services      []*types.ServiceSpec
	Trust         TrustSettings
	PostBootstrap *PostBootstrap
}

// TrustSettings configures trust material generation
type TrustSettings struct {
	Organization string
	KeyBits      int
	ProxyHost    string
	ProxyNames   []string
	ProxyIPs     []net.IP
}

// PostBootstrap is the management setup applied after service After is
// ready
type PostBootstrap struct {
	After    string
	Client   postboot.ClientConfig
	Projects []postboot.ProjectSpec
}

// RenderContext is the data available to templates
type RenderContext struct {
	Workdir string
	Env     map[string]string

	// SkipSources leaves seed files with a source path empty instead of
	// reading them. Used when the referenced material does not exist yet.
	SkipSources bool
}

// EnvMap converts os.Environ style entries into a map
func EnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

type templateData struct {
	Workdir string
	Project string
	Values  map[string]string
	Env     map[string]string
}

type renderer struct {
	data templateData
	err  error
}

// str renders one template string. The first error sticks and later calls
// are no-ops.
func (r *renderer) str(field, s string) string {
	if r.err != nil || !strings.Contains(s, "{{") {
		return s
	}
	tmpl, err := template.New(field).Option("missingkey=error").Funcs(r.funcs()).Parse(s)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", field, err)
		return ""
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, r.data); err != nil {
		r.err = fmt.Errorf("%s: %w", field, err)
		return ""
	}
	return buf.String()
}

// funcs are available in every template. env tolerates unset variables,
// unlike .Env which fails on a missing key.
func (r *renderer) funcs() template.FuncMap {
	return template.FuncMap{
		"env": func(key string) string { return r.data.Env[key] },
		"default": func(def, v string) string {
			if v == "" {
				return def
			}
			return v
		},
	}
}

func (r *renderer) list(field string, in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = r.str(fmt.Sprintf("%s[%d]", field, i), s)
	}
	return out
}

// Render expands templates and converts the file into service specs
func (f *File) Render(rc RenderContext) (*Topology, error) {
	if rc.Env == nil {
		rc.Env = map[string]string{}
	}

	// Values may use everything except other values
	r := &renderer{data: templateData{Workdir: rc.Workdir, Project: f.Project, Env: rc.Env}}
	values := make(map[string]string, len(f.Values))
	for k, v := range f.Values {
		values[k] = r.str("values."+k, v)
	}
	if r.err != nil {
		return nil, r.err
	}
	r.data.Values = values

	topo := &Topology{Project: f.Project}

	ts, err := f.TrustSettings()
	if err != nil {
		return nil, err
	}
	topo.Trust = ts

	for i := range f.Services {
		spec, err := f.Services[i].render(r, rc)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", f.Services[i].ID, err)
		}
		topo.Services = append(topo.Services, spec)
	}

	if f.PostBootstrap != nil {
		pb, err := f.PostBootstrap.render(r)
		if err != nil {
			return nil, fmt.Errorf("postBootstrap: %w", err)
		}
		topo.PostBootstrap = pb
	}
	return topo, nil
}

// TrustSettings returns the trust section, which is not templated and can
// be read before anything is rendered
func (f *File) TrustSettings() (TrustSettings, error) {
	t := f.Trust
	s := TrustSettings{
		Organization: t.Organization,
		KeyBits:      t.KeyBits,
		ProxyHost:    t.ProxyHost,
		ProxyNames:   t.ProxyNames,
	}
	for _, raw := range t.ProxyIPs {
		ip := net.ParseIP(raw)
		if ip == nil {
			return s, fmt.Errorf("trust: invalid proxy IP %q", raw)
		}
		s.ProxyIPs = append(s.ProxyIPs, ip)
	}
	return s, nil
}

func (s *ServiceConfig) render(r *renderer, rc RenderContext) (*types.ServiceSpec, error) {
	spec := &types.ServiceSpec{
		ID:        s.ID,
		Image:     r.str("image", s.Image),
		DependsOn: append([]string(nil), s.DependsOn...),
		Env:       r.list("env", s.Env),
		Args:      r.list("args", s.Args),
	}

	if s.Volume != nil {
		spec.Volume = &types.VolumeMount{
			Name:   r.str("volume.name", s.Volume.Name),
			Target: r.str("volume.target", s.Volume.Target),
		}
	}

	for i, sc := range s.Seed {
		field := fmt.Sprintf("seed[%d]", i)
		seed, err := sc.render(r, field, rc)
		if err != nil {
			return nil, err
		}
		spec.SeedFiles = append(spec.SeedFiles, seed)
	}

	probe, err := s.Readiness.render(r)
	if err != nil {
		return nil, err
	}
	spec.Readiness = probe

	if spec.StopTimeout, err = duration("stopTimeout", s.StopTimeout); err != nil {
		return nil, err
	}

	if s.Trust != nil {
		spec.RequiresTrustBootstrap = true
		spec.Trust = types.TrustSpec{
			Alias:                r.str("trust.alias", s.Trust.Alias),
			RemotePath:           r.str("trust.path", s.Trust.Path),
			Command:              r.list("trust.command", s.Trust.Command),
			AlreadyPresentMarker: s.Trust.Marker,
		}
		if spec.Trust.Alias == "" {
			spec.Trust.Alias = r.data.Project + "-root"
		}
		if spec.Trust.RemotePath == "" {
			spec.Trust.RemotePath = DefaultTrustPath
		}
		if len(spec.Trust.Command) == 0 {
			spec.Trust.Command = KeytoolImport(spec.Trust.Alias, spec.Trust.RemotePath)
		}
		if spec.Trust.AlreadyPresentMarker == "" {
			spec.Trust.AlreadyPresentMarker = trust.DefaultMarker
		}
	}

	if r.err != nil {
		return nil, r.err
	}
	return spec, nil
}

// KeytoolImport is the default import command for JVM based services
func KeytoolImport(alias, path string) []string {
	return []string{
		"keytool", "-importcert", "-noprompt",
		"-alias", alias,
		"-file", path,
		"-cacerts", "-storepass", "changeit",
	}
}

func (sc *SeedConfig) render(r *renderer, field string, rc RenderContext) (types.SeedFile, error) {
	seed := types.SeedFile{
		Destination: r.str(field+".dest", sc.Dest),
		IsDirectory: sc.Directory,
		UID:         -1,
		GID:         -1,
	}
	if sc.UID != nil {
		seed.UID = *sc.UID
	}
	if sc.GID != nil {
		seed.GID = *sc.GID
	}

	seed.Mode = 0644
	if sc.Directory {
		seed.Mode = 0755
	}
	if sc.Mode != "" {
		m, err := strconv.ParseUint(sc.Mode, 8, 32)
		if err != nil {
			return seed, fmt.Errorf("%s.mode: invalid octal mode %q", field, sc.Mode)
		}
		seed.Mode = os.FileMode(m)
	}

	switch {
	case sc.Directory:
	case sc.Source != "":
		path := r.str(field+".source", sc.Source)
		if r.err != nil || rc.SkipSources {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return seed, fmt.Errorf("%s.source: %w", field, err)
		}
		seed.Content = data
	default:
		seed.Content = []byte(r.str(field+".content", sc.Content))
	}
	return seed, r.err
}

func (p *ProbeConfig) render(r *renderer) (types.Probe, error) {
	probe := types.Probe{
		Type:        types.ProbeType(strings.ToLower(p.Type)),
		Target:      r.str("readiness.target", p.Target),
		Command:     r.list("readiness.command", p.Command),
		JSONField:   p.JSONField,
		ReadyValues: p.ReadyValues,
		ErrorValues: p.ErrorValues,
		StatusMin:   p.StatusMin,
		StatusMax:   p.StatusMax,
		FatalStatus: p.FatalStatus,
		Service:     p.Service,
		Method:      strings.ToUpper(p.Method),
	}
	if len(p.Headers) > 0 {
		probe.Headers = make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			probe.Headers[k] = r.str("readiness.headers."+k, v)
		}
	}

	var err error
	if probe.Interval, err = duration("readiness.interval", p.Interval); err != nil {
		return probe, err
	}
	if probe.Timeout, err = duration("readiness.timeout", p.Timeout); err != nil {
		return probe, err
	}
	if probe.AttemptTimeout, err = duration("readiness.attemptTimeout", p.AttemptTimeout); err != nil {
		return probe, err
	}
	return probe, r.err
}

func (p *PostBootstrapConfig) render(r *renderer) (*PostBootstrap, error) {
	pb := &PostBootstrap{
		After: p.After,
		Client: postboot.ClientConfig{
			BaseURL:  r.str("baseURL", p.BaseURL),
			Username: r.str("username", p.Username),
			Password: r.str("password", p.Password),
		},
	}
	for _, pc := range p.Projects {
		ps := postboot.ProjectSpec{
			Project: postboot.Project{
				Key:         pc.Key,
				Name:        r.str("projects.name", pc.Name),
				Description: r.str("projects.description", pc.Description),
			},
		}
		for _, rc := range pc.Repositories {
			repo := postboot.Repository{
				Name:          r.str("repositories.name", rc.Name),
				ScmID:         rc.ScmID,
				DefaultBranch: rc.DefaultBranch,
				Forkable:      true,
			}
			if repo.ScmID == "" {
				repo.ScmID = "git"
			}
			if rc.Forkable != nil {
				repo.Forkable = *rc.Forkable
			}
			ps.Repositories = append(ps.Repositories, repo)
		}
		pb.Projects = append(pb.Projects, ps)
	}
	return pb, r.err
}

func duration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}
