package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/stackup/pkg/config"
	"github.com/cuemby/stackup/pkg/events"
	"github.com/cuemby/stackup/pkg/storage"
	"github.com/cuemby/stackup/pkg/types"
	"github.com/cuemby/stackup/pkg/volume"
)

// teardown removes every instance labelled with the project and, when
// deleteVolumes is set, every volume recorded in the store or declared by
// the topology
func (p *Provisioner) teardown(ctx context.Context, topo *config.Topology, store storage.Store, driver volume.Driver, deleteVolumes bool) error {
	logger := p.logger.With().Str("project", topo.Project).Logger()

	handles, err := p.runtime.List(ctx, topo.Project)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}
	for _, h := range handles {
		if err := p.runtime.Remove(ctx, h); err != nil {
			return fmt.Errorf("failed to remove %s: %w", h, err)
		}
		logger.Info().Str("handle", h).Msg("Removed instance")
		p.publish(&events.Event{Type: events.EventTeardownRemoved, Message: h, Metadata: map[string]string{"kind": "instance"}})
	}

	if !deleteVolumes {
		return nil
	}

	recorded, err := store.ListVolumes()
	if err != nil {
		return fmt.Errorf("failed to list volumes: %w", err)
	}

	seen := make(map[string]bool)
	var vols []*types.Volume
	for _, v := range recorded {
		if !seen[v.ID] {
			seen[v.ID] = true
			vols = append(vols, v)
		}
	}
	for _, spec := range topo.Services {
		if spec.Volume == nil {
			continue
		}
		v := volumeFor(topo.Project, spec)
		if !seen[v.ID] {
			seen[v.ID] = true
			vols = append(vols, v)
		}
	}

	var errs []error
	for _, v := range vols {
		if err := driver.Delete(v); err != nil {
			errs = append(errs, fmt.Errorf("volume %s: %w", v.ID, err))
			continue
		}
		if err := store.DeleteVolume(v.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Debug().Str("volume", v.ID).Msg("Deleted volume")
		p.publish(&events.Event{Type: events.EventTeardownRemoved, Message: v.ID, Metadata: map[string]string{"kind": "volume"}})
	}
	return errors.Join(errs...)
}

// readyWatch forwards events and closes ready the first time service id
// becomes ready
type readyWatch struct {
	id    string
	next  events.Publisher
	ready chan struct{}
	once  sync.Once
}

func newReadyWatch(id string, next events.Publisher) *readyWatch {
	return &readyWatch{id: id, next: next, ready: make(chan struct{})}
}

func (w *readyWatch) Publish(e *events.Event) {
	if e.Type == events.EventNodeReady && e.ServiceID == w.id {
		w.once.Do(func() { close(w.ready) })
	}
	if w.next != nil {
		w.next.Publish(e)
	}
}

// publisherOf avoids handing the scheduler a typed nil
func publisherOf(w *readyWatch, next events.Publisher) events.Publisher {
	if w != nil {
		return w
	}
	return next
}
