// Package store persists clusters, ports, terminal operators, research jobs,
// and discovery proposals. The job table is the single source of truth for
// job state; dispatch claims are atomic status transitions so multiple
// processes cannot run the same job.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborintel/port-research/internal/model"
	"github.com/harborintel/port-research/internal/research"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = eris.New("store: not found")

// MaxReportBytes caps persisted research reports. Longer reports are
// truncated head-and-tail with an in-band marker.
const MaxReportBytes = 64 * 1024

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status    model.JobStatus `json:"status,omitempty"`
	Type      model.JobType   `json:"type,omitempty"`
	ClusterID string          `json:"cluster_id,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// ProposalFilter specifies criteria for listing discovery proposals.
type ProposalFilter struct {
	Status model.ProposalStatus `json:"status,omitempty"`
	PortID string               `json:"port_id,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
}

// Store defines the persistence interface for the research service.
type Store interface {
	// Clusters
	CreateCluster(ctx context.Context, cluster *model.Cluster) error
	GetCluster(ctx context.Context, id string) (*model.Cluster, error)
	ListClusters(ctx context.Context) ([]model.Cluster, error)

	// Ports
	CreatePort(ctx context.Context, port *model.Port) error
	GetPort(ctx context.Context, id string) (*model.Port, error)
	ListPorts(ctx context.Context, clusterID string) ([]model.Port, error)
	UpdatePortFields(ctx context.Context, id string, fields map[string]any) error

	// Terminal operators
	CreateOperator(ctx context.Context, op *model.TerminalOperator) error
	GetOperator(ctx context.Context, id string) (*model.TerminalOperator, error)
	ListOperators(ctx context.Context, portID string) ([]model.TerminalOperator, error)
	UpdateOperatorFields(ctx context.Context, id string, fields map[string]any) error

	// Terminals
	CreateTerminal(ctx context.Context, t *model.Terminal) error
	ListTerminals(ctx context.Context, portID string) ([]model.Terminal, error)

	// Jobs
	CreateJobs(ctx context.Context, jobs []model.ResearchJob) ([]string, error)
	// ClaimNextJob atomically flips the oldest pending job to running and
	// returns it, or (nil, nil) when nothing is pending.
	ClaimNextJob(ctx context.Context) (*model.ResearchJob, error)
	UpdateJobProgress(ctx context.Context, jobID string, progress int) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID string, message string) error
	// FailStaleJobs fails every running job whose heartbeat is older than
	// maxAge and returns how many it swept.
	FailStaleJobs(ctx context.Context, maxAge time.Duration) (int, error)
	GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error)

	// Discovery proposals
	CreateProposals(ctx context.Context, proposals []model.DiscoveryProposal) error
	GetProposal(ctx context.Context, id string) (*model.DiscoveryProposal, error)
	ListProposals(ctx context.Context, filter ProposalFilter) ([]model.DiscoveryProposal, error)
	UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus) error

	// Reports
	SaveResearchReport(ctx context.Context, entityKind, entityID, report string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// capReport bounds a research report at MaxReportBytes, cutting the middle
// so the head and tail both survive.
func capReport(report string) string {
	return research.TruncateMiddle(report, MaxReportBytes)
}

// updatableColumn maps an API-level field name onto its column for the
// field-level apply path. Names outside the map are rejected, which keeps
// arbitrary input out of SQL.
func updatableColumn(entityKind, field string) (string, bool) {
	switch entityKind {
	case "port":
		switch field {
		case "name", "country", "size", "importance", "notes":
			return field, true
		case "strategic_importance":
			return "importance", true
		case "annual_capacity":
			return "annual_capacity", true
		case "cargo_types":
			return "cargo_types", true
		case "coordinates":
			return "coordinates", true
		}
	case "operator":
		switch field {
		case "name", "operator_type", "capacity", "notes", "address":
			return field, true
		case "parent_companies", "cargo_types", "locations":
			return field, true
		case "coordinates":
			return "coordinates", true
		}
	}
	return "", false
}
