package telemetry

import (
	"context"
	"time"
)

// Collector records one snapshot per supervisor tick.
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository defines the interface for snapshot storage
type Repository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot is the per-tick view of host pressure and the gate decision.
type Snapshot struct {
	Timestamp time.Time
	CPU       MetricState
	DiskQueue MetricState
	Host      HostState
	Gate      GateState
}

// MetricState captures one monitored metric at a tick.
type MetricState struct {
	Average    float64
	Limit      float64
	Overloaded bool
}

// HostState carries observability-only readings.
type HostState struct {
	Load1         float64
	MemoryPercent float64
}

// GateState captures the supervisor decision at a tick.
type GateState struct {
	Safe               bool
	Reason             string
	ServiceSuspended   bool
	TransferInProgress bool
}
