package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/stackup/pkg/types"
)

// validate checks what can be checked before rendering. Dependency cycles
// and unknown dependencies are left to the registry.
func (f *File) validate() error {
	var errs []error

	if !projectName.MatchString(f.Project) {
		errs = append(errs, fmt.Errorf("project name %q must be lowercase letters, digits, '.', '_' or '-'", f.Project))
	}
	if len(f.Services) == 0 {
		errs = append(errs, fmt.Errorf("no services defined"))
	}

	volumes := make(map[string]string)
	for i := range f.Services {
		s := &f.Services[i]
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("services[%d]: missing id", i))
			continue
		}
		if s.Image == "" {
			errs = append(errs, fmt.Errorf("service %q: missing image", s.ID))
		}

		if s.Volume != nil {
			if s.Volume.Name == "" || s.Volume.Target == "" {
				errs = append(errs, fmt.Errorf("service %q: volume needs name and target", s.ID))
			} else if owner, ok := volumes[s.Volume.Name]; ok {
				errs = append(errs, fmt.Errorf("service %q: volume %q already used by %q", s.ID, s.Volume.Name, owner))
			} else {
				volumes[s.Volume.Name] = s.ID
			}
		}

		if len(s.Seed) > 0 && s.Volume == nil {
			errs = append(errs, fmt.Errorf("service %q: seed files need a volume", s.ID))
		}
		for j, seed := range s.Seed {
			if seed.Dest == "" {
				errs = append(errs, fmt.Errorf("service %q: seed[%d]: missing dest", s.ID, j))
			}
			if seed.Content != "" && seed.Source != "" {
				errs = append(errs, fmt.Errorf("service %q: seed[%d]: content and source are exclusive", s.ID, j))
			}
			if seed.Directory && (seed.Content != "" || seed.Source != "") {
				errs = append(errs, fmt.Errorf("service %q: seed[%d]: a directory has no content", s.ID, j))
			}
		}

		if err := s.Readiness.validate(); err != nil {
			errs = append(errs, fmt.Errorf("service %q: %w", s.ID, err))
		}
	}

	if pb := f.PostBootstrap; pb != nil {
		if pb.After == "" || pb.BaseURL == "" {
			errs = append(errs, fmt.Errorf("postBootstrap: after and baseURL are required"))
		} else if !f.hasService(pb.After) {
			errs = append(errs, fmt.Errorf("postBootstrap: unknown service %q", pb.After))
		}
		for i, p := range pb.Projects {
			if p.Key == "" {
				errs = append(errs, fmt.Errorf("postBootstrap: projects[%d]: missing key", i))
			}
		}
	}

	return errors.Join(errs...)
}

func (p *ProbeConfig) validate() error {
	switch types.ProbeType(strings.ToLower(p.Type)) {
	case types.ProbeHTTP, types.ProbeTCP, types.ProbeGRPC:
		if p.Target == "" {
			return fmt.Errorf("%s readiness probe needs a target", p.Type)
		}
		if p.Method != "" && types.ProbeType(strings.ToLower(p.Type)) != types.ProbeHTTP {
			return fmt.Errorf("%s readiness probe does not take a method", p.Type)
		}
	case types.ProbeExec:
		if len(p.Command) == 0 {
			return fmt.Errorf("exec readiness probe needs a command")
		}
	case "":
		return fmt.Errorf("missing readiness probe")
	default:
		return fmt.Errorf("unknown readiness probe type %q", p.Type)
	}
	return nil
}

func (f *File) hasService(id string) bool {
	for _, s := range f.Services {
		if s.ID == id {
			return true
		}
	}
	return false
}
