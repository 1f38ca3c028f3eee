package storage

import (
	"time"

	"github.com/cuemby/stackup/pkg/types"
)

// InstanceRecord is the persisted view of one ServiceInstance
type InstanceRecord struct {
	RunID         string
	ID            string
	State         types.NodeState
	Handle        string
	StartedAt     time.Time
	ReadyAt       time.Time
	FailureKind   types.FailureKind `json:",omitempty"`
	FailureReason string            `json:",omitempty"`
	Warnings      []string          `json:",omitempty"`
	LastProbe     *types.ProbeResult
	Transitions   []types.Transition
}

// NewInstanceRecord flattens inst for storage
func NewInstanceRecord(runID string, inst types.ServiceInstance) *InstanceRecord {
	return &InstanceRecord{
		RunID:         runID,
		ID:            inst.Spec.ID,
		State:         inst.State,
		Handle:        inst.Handle,
		StartedAt:     inst.StartedAt,
		ReadyAt:       inst.ReadyAt,
		FailureKind:   inst.FailureKind,
		FailureReason: inst.FailureReason,
		Warnings:      inst.Warnings,
		LastProbe:     inst.LastProbeResult,
		Transitions:   inst.Transitions,
	}
}

// Store keeps the outcome of the last run for inspection
type Store interface {
	// Reports
	SaveReport(report *types.Report) error
	GetReport(runID string) (*types.Report, error)
	LatestReport() (*types.Report, error)

	// Instances
	SaveInstance(record *InstanceRecord) error
	ListInstances() ([]*InstanceRecord, error)

	// Volumes
	SaveVolume(volume *types.Volume) error
	ListVolumes() ([]*types.Volume, error)
	DeleteVolume(id string) error

	// Utility
	Close() error
}
