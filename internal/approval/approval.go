// Package approval implements the proposal workflow: discovery submissions
// with dedupe, batch approve/reject of discovery proposals, entity
// materialization with the coordinate fallback chain, and field-level apply
// of research results.
package approval

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborintel/port-research/internal/model"
	"github.com/harborintel/port-research/internal/store"
	"github.com/harborintel/port-research/pkg/geocode"
)

// Store is the persistence subset the approval workflow needs.
type Store interface {
	CreateProposals(ctx context.Context, proposals []model.DiscoveryProposal) error
	GetProposal(ctx context.Context, id string) (*model.DiscoveryProposal, error)
	ListProposals(ctx context.Context, filter store.ProposalFilter) ([]model.DiscoveryProposal, error)
	UpdateProposalStatus(ctx context.Context, id string, status model.ProposalStatus) error
	GetPort(ctx context.Context, id string) (*model.Port, error)
	ListOperators(ctx context.Context, portID string) ([]model.TerminalOperator, error)
	ListTerminals(ctx context.Context, portID string) ([]model.Terminal, error)
	CreateOperator(ctx context.Context, op *model.TerminalOperator) error
	CreateTerminal(ctx context.Context, t *model.Terminal) error
	UpdatePortFields(ctx context.Context, id string, fields map[string]any) error
	UpdateOperatorFields(ctx context.Context, id string, fields map[string]any) error
}

// BatchResult summarizes one batch approve/reject call.
type BatchResult struct {
	ApprovedCount   int   `json:"approvedCount"`
	RejectedCount   int   `json:"rejectedCount"`
	CreatedEntities []any `json:"createdEntities"`
}

// Service runs the approval workflow.
type Service struct {
	store        Store
	geocoder     geocode.Client
	defaultPoint model.Coordinates
	log          *zap.Logger
}

// NewService wires the approval service. geocoder may be nil, which skips
// the geocoding step of the fallback chain. defaultPoint is the last-resort
// coordinate.
func NewService(store Store, geocoder geocode.Client, defaultPoint model.Coordinates) *Service {
	return &Service{
		store:        store,
		geocoder:     geocoder,
		defaultPoint: defaultPoint,
		log:          zap.L().With(zap.String("component", "approval")),
	}
}

// ProposeResult summarizes one discovery submission.
type ProposeResult struct {
	CreatedCount int                       `json:"createdCount"`
	SkippedCount int                       `json:"skippedCount"`
	Proposals    []model.DiscoveryProposal `json:"proposals"`
}

// Propose records discovery candidates for a port as pending proposals.
// Candidates are deduplicated by case-folded name against the port's
// existing operators, terminals, and earlier proposals (a rejected name
// stays rejected); duplicates and unnamed candidates are skipped, not
// errors.
func (s *Service) Propose(ctx context.Context, portID string, candidates []model.DiscoveryProposal) (*ProposeResult, error) {
	if _, err := s.store.GetPort(ctx, portID); err != nil {
		return nil, eris.Wrapf(err, "approval: look up port %s", portID)
	}

	seen := make(map[string]bool)
	operators, err := s.store.ListOperators(ctx, portID)
	if err != nil {
		return nil, eris.Wrap(err, "approval: list operators")
	}
	for _, op := range operators {
		seen[foldName(op.Name)] = true
	}
	terminals, err := s.store.ListTerminals(ctx, portID)
	if err != nil {
		return nil, eris.Wrap(err, "approval: list terminals")
	}
	for _, t := range terminals {
		seen[foldName(t.Name)] = true
	}
	existing, err := s.store.ListProposals(ctx, store.ProposalFilter{PortID: portID})
	if err != nil {
		return nil, eris.Wrap(err, "approval: list proposals")
	}
	for _, p := range existing {
		seen[foldName(p.Name)] = true
	}

	result := &ProposeResult{Proposals: []model.DiscoveryProposal{}}
	var create []model.DiscoveryProposal
	for _, c := range candidates {
		name := strings.TrimSpace(c.Name)
		key := foldName(name)
		if name == "" || seen[key] {
			result.SkippedCount++
			continue
		}
		seen[key] = true

		if c.Kind != model.ProposalKindTerminal {
			c.Kind = model.ProposalKindOperator
		}
		c.ID = ""
		c.PortID = portID
		c.Name = name
		create = append(create, c)
	}

	if err := s.store.CreateProposals(ctx, create); err != nil {
		return nil, eris.Wrap(err, "approval: create proposals")
	}
	result.CreatedCount = len(create)
	result.Proposals = append(result.Proposals, create...)

	s.log.Info("discovery proposals recorded",
		zap.String("port_id", portID),
		zap.Int("created", result.CreatedCount),
		zap.Int("skipped", result.SkippedCount))
	return result, nil
}

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Batch applies one action to a list of proposals. Reject is a pure status
// flip. Approve additionally materializes one entity per proposal; a single
// proposal's failure is logged and skipped, never fatal to the batch.
func (s *Service) Batch(ctx context.Context, proposalIDs []string, action string) (*BatchResult, error) {
	if action != "approve" && action != "reject" {
		return nil, eris.Errorf("approval: unknown action %q", action)
	}

	result := &BatchResult{CreatedEntities: []any{}}
	for _, id := range proposalIDs {
		proposal, err := s.store.GetProposal(ctx, id)
		if err != nil {
			s.log.Warn("proposal lookup failed, skipping", zap.String("proposal_id", id), zap.Error(err))
			continue
		}
		if proposal.Status != model.ProposalStatusPending {
			s.log.Warn("proposal already reviewed, skipping",
				zap.String("proposal_id", id), zap.String("status", string(proposal.Status)))
			continue
		}

		if action == "reject" {
			if err := s.store.UpdateProposalStatus(ctx, id, model.ProposalStatusRejected); err != nil {
				s.log.Warn("reject failed, skipping", zap.String("proposal_id", id), zap.Error(err))
				continue
			}
			result.RejectedCount++
			continue
		}

		entity, err := s.approve(ctx, proposal)
		if err != nil {
			s.log.Warn("approve failed, skipping", zap.String("proposal_id", id), zap.Error(err))
			continue
		}
		result.ApprovedCount++
		result.CreatedEntities = append(result.CreatedEntities, entity)
	}
	return result, nil
}

func (s *Service) approve(ctx context.Context, p *model.DiscoveryProposal) (any, error) {
	coords, provenance := s.resolveCoordinates(ctx, p)

	// The provenance tag is a required side effect; coordinate quality must
	// stay auditable after the proposal is gone.
	notes := fmt.Sprintf("Coordinates resolved via %s.", provenance)

	var entity any
	switch p.Kind {
	case model.ProposalKindTerminal:
		t := &model.Terminal{
			PortID:      p.PortID,
			Name:        p.Name,
			Address:     p.Address,
			Coordinates: &coords,
			Notes:       notes,
		}
		if err := s.store.CreateTerminal(ctx, t); err != nil {
			return nil, eris.Wrap(err, "approval: create terminal")
		}
		entity = t
	default:
		op := &model.TerminalOperator{
			PortID:          p.PortID,
			Name:            p.Name,
			OperatorType:    p.OperatorType,
			ParentCompanies: p.ParentCompanies,
			Capacity:        p.Capacity,
			CargoTypes:      p.CargoTypes,
			Coordinates:     &coords,
			Locations:       p.Locations,
			Address:         p.Address,
			Notes:           notes,
		}
		if err := s.store.CreateOperator(ctx, op); err != nil {
			return nil, eris.Wrap(err, "approval: create operator")
		}
		entity = op
	}

	if err := s.store.UpdateProposalStatus(ctx, p.ID, model.ProposalStatusApproved); err != nil {
		return nil, eris.Wrap(err, "approval: mark approved")
	}
	return entity, nil
}

// resolveCoordinates walks the fallback chain in order, first success wins:
// proposal coordinates, geocoding, sibling centroid, fixed default point.
func (s *Service) resolveCoordinates(ctx context.Context, p *model.DiscoveryProposal) (model.Coordinates, string) {
	if p.Coordinates != nil && p.Coordinates.Valid() && !p.Coordinates.IsZero() {
		return p.Coordinates.Round6(), "proposal coordinates"
	}

	if coords, ok := s.geocodeProposal(ctx, p); ok {
		return coords, "geocoding"
	}

	if coords, ok := s.siblingCentroid(ctx, p); ok {
		return coords, "sibling centroid"
	}

	return s.defaultPoint, "default fallback point"
}

func (s *Service) geocodeProposal(ctx context.Context, p *model.DiscoveryProposal) (model.Coordinates, bool) {
	if s.geocoder == nil {
		return model.Coordinates{}, false
	}

	var parts []string
	// Address takes priority in the query when present.
	if p.Address != "" {
		parts = append(parts, p.Address)
	}
	if port, err := s.store.GetPort(ctx, p.PortID); err == nil {
		parts = append(parts, port.Name)
		if port.Country != "" {
			parts = append(parts, port.Country)
		}
	}

	result, err := s.geocoder.Geocode(ctx, p.Name, strings.Join(parts, ", "))
	if err != nil {
		s.log.Warn("geocoding failed", zap.String("proposal_id", p.ID), zap.Error(err))
		return model.Coordinates{}, false
	}
	if result == nil {
		return model.Coordinates{}, false
	}
	coords := model.Coordinates{Latitude: result.Latitude, Longitude: result.Longitude}
	if !coords.Valid() || coords.IsZero() {
		return model.Coordinates{}, false
	}
	return coords.Round6(), true
}

func (s *Service) siblingCentroid(ctx context.Context, p *model.DiscoveryProposal) (model.Coordinates, bool) {
	var coords []model.Coordinates
	switch p.Kind {
	case model.ProposalKindTerminal:
		siblings, err := s.store.ListTerminals(ctx, p.PortID)
		if err != nil {
			return model.Coordinates{}, false
		}
		for _, t := range siblings {
			if t.Coordinates != nil && t.Coordinates.Valid() && !t.Coordinates.IsZero() {
				coords = append(coords, *t.Coordinates)
			}
		}
	default:
		siblings, err := s.store.ListOperators(ctx, p.PortID)
		if err != nil {
			return model.Coordinates{}, false
		}
		for _, op := range siblings {
			if op.Coordinates != nil && op.Coordinates.Valid() && !op.Coordinates.IsZero() {
				coords = append(coords, *op.Coordinates)
			}
		}
	}

	centroid, ok := model.Centroid(coords)
	if !ok {
		return model.Coordinates{}, false
	}
	return centroid.Round6(), true
}

// ApplyFields copies allow-listed fields from a research payload onto an
// entity. Fields outside the allow-list are silently ignored. A nil
// allow-list is the legacy mode: every non-nil field applies.
func (s *Service) ApplyFields(ctx context.Context, entityKind, entityID string, dataToUpdate map[string]any, approvedFields []string) error {
	fields := filterFields(dataToUpdate, approvedFields)
	if len(fields) == 0 {
		return nil
	}

	switch entityKind {
	case "port":
		return s.store.UpdatePortFields(ctx, entityID, fields)
	case "operator":
		return s.store.UpdateOperatorFields(ctx, entityID, fields)
	default:
		return eris.Errorf("approval: unknown entity kind %q", entityKind)
	}
}

func filterFields(dataToUpdate map[string]any, approvedFields []string) map[string]any {
	fields := make(map[string]any, len(dataToUpdate))
	if approvedFields == nil {
		for name, value := range dataToUpdate {
			if value != nil {
				fields[name] = value
			}
		}
		return fields
	}

	approved := make(map[string]bool, len(approvedFields))
	for _, f := range approvedFields {
		approved[f] = true
	}
	for name, value := range dataToUpdate {
		if approved[name] && value != nil {
			fields[name] = value
		}
	}
	return fields
}
