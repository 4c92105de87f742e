// Package quality computes the data quality report: aggregate entity counts
// plus orphaned or misassigned entities.
package quality

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/harborintel/port-research/internal/model"
)

// Store is the persistence subset the quality check reads.
type Store interface {
	ListClusters(ctx context.Context) ([]model.Cluster, error)
	ListPorts(ctx context.Context, clusterID string) ([]model.Port, error)
	ListOperators(ctx context.Context, portID string) ([]model.TerminalOperator, error)
}

// OrphanedEntity identifies one entity whose parent reference is broken.
type OrphanedEntity struct {
	Kind     string `json:"kind"` // "port" or "operator"
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
	Reason   string `json:"reason"`
}

// Report is the aggregate quality snapshot.
type Report struct {
	ClusterCount    int              `json:"cluster_count"`
	PortCount       int              `json:"port_count"`
	OperatorCount   int              `json:"operator_count"`
	ResearchedPorts int              `json:"researched_ports"`
	MissingCoords   int              `json:"missing_coordinates"`
	Orphaned        []OrphanedEntity `json:"orphaned"`
}

// Checker computes quality reports.
type Checker struct {
	store Store
}

// NewChecker wires a quality checker.
func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// Check builds the quality report: ports whose cluster does not exist,
// operators whose port does not exist, and aggregate counts.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	clusters, err := c.store.ListClusters(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quality: list clusters")
	}
	clusterIDs := make(map[string]bool, len(clusters))
	for _, cl := range clusters {
		clusterIDs[cl.ID] = true
	}

	ports, err := c.store.ListPorts(ctx, "")
	if err != nil {
		return nil, eris.Wrap(err, "quality: list ports")
	}
	portIDs := make(map[string]bool, len(ports))

	report := &Report{
		ClusterCount: len(clusters),
		PortCount:    len(ports),
		Orphaned:     []OrphanedEntity{},
	}

	for _, p := range ports {
		portIDs[p.ID] = true
		if p.ResearchedAt != nil {
			report.ResearchedPorts++
		}
		if p.Coordinates == nil || !p.Coordinates.Valid() || p.Coordinates.IsZero() {
			report.MissingCoords++
		}
		if !clusterIDs[p.ClusterID] {
			report.Orphaned = append(report.Orphaned, OrphanedEntity{
				Kind:     "port",
				ID:       p.ID,
				Name:     p.Name,
				ParentID: p.ClusterID,
				Reason:   "cluster does not exist",
			})
		}
	}

	operators, err := c.store.ListOperators(ctx, "")
	if err != nil {
		return nil, eris.Wrap(err, "quality: list operators")
	}
	report.OperatorCount = len(operators)
	for _, op := range operators {
		if !portIDs[op.PortID] {
			report.Orphaned = append(report.Orphaned, OrphanedEntity{
				Kind:     "operator",
				ID:       op.ID,
				Name:     op.Name,
				ParentID: op.PortID,
				Reason:   "port does not exist",
			})
		}
	}

	return report, nil
}
