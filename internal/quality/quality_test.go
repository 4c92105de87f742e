package quality

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborintel/port-research/internal/model"
)

type fakeStore struct {
	clusters  []model.Cluster
	ports     []model.Port
	operators []model.TerminalOperator

	clustersErr error
}

func (s *fakeStore) ListClusters(ctx context.Context) ([]model.Cluster, error) {
	return s.clusters, s.clustersErr
}

func (s *fakeStore) ListPorts(ctx context.Context, clusterID string) ([]model.Port, error) {
	return s.ports, nil
}

func (s *fakeStore) ListOperators(ctx context.Context, portID string) ([]model.TerminalOperator, error) {
	return s.operators, nil
}

func TestCheck_CountsAndOrphans(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		clusters: []model.Cluster{{ID: "c1", Name: "North Sea"}},
		ports: []model.Port{
			{
				ID: "p1", ClusterID: "c1", Name: "Rotterdam",
				Coordinates:  &model.Coordinates{Latitude: 51.9244, Longitude: 4.4777},
				ResearchedAt: &now,
			},
			{ID: "p2", ClusterID: "c1", Name: "Antwerp"}, // no coordinates
			{ID: "p3", ClusterID: "gone", Name: "Hamburg",
				Coordinates: &model.Coordinates{}}, // zero coords, orphaned
		},
		operators: []model.TerminalOperator{
			{ID: "op1", PortID: "p1", Name: "ECT"},
			{ID: "op2", PortID: "deleted-port", Name: "Hutchison Ports"},
		},
	}

	report, err := NewChecker(store).Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.ClusterCount)
	assert.Equal(t, 3, report.PortCount)
	assert.Equal(t, 2, report.OperatorCount)
	assert.Equal(t, 1, report.ResearchedPorts)
	assert.Equal(t, 2, report.MissingCoords)

	require.Len(t, report.Orphaned, 2)
	assert.Equal(t, OrphanedEntity{
		Kind: "port", ID: "p3", Name: "Hamburg", ParentID: "gone",
		Reason: "cluster does not exist",
	}, report.Orphaned[0])
	assert.Equal(t, OrphanedEntity{
		Kind: "operator", ID: "op2", Name: "Hutchison Ports", ParentID: "deleted-port",
		Reason: "port does not exist",
	}, report.Orphaned[1])
}

func TestCheck_InvalidCoordinatesCountAsMissing(t *testing.T) {
	store := &fakeStore{
		clusters: []model.Cluster{{ID: "c1"}},
		ports: []model.Port{
			{ID: "p1", ClusterID: "c1",
				Coordinates: &model.Coordinates{Latitude: 123, Longitude: 4.4}},
		},
	}

	report, err := NewChecker(store).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.MissingCoords)
	assert.Empty(t, report.Orphaned)
}

func TestCheck_EmptyDatabase(t *testing.T) {
	report, err := NewChecker(&fakeStore{}).Check(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.ClusterCount)
	assert.Equal(t, 0, report.PortCount)
	assert.Equal(t, 0, report.OperatorCount)
	// Orphaned serializes as [] rather than null.
	assert.NotNil(t, report.Orphaned)
	assert.Empty(t, report.Orphaned)
}

func TestCheck_StoreFailureSurfaces(t *testing.T) {
	store := &fakeStore{clustersErr: eris.New("connection reset")}

	_, err := NewChecker(store).Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list clusters")
}
