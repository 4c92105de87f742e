package model

import "time"

// UpdatePriority ranks how urgently a proposed field change should be applied.
type UpdatePriority string

const (
	PriorityHigh   UpdatePriority = "high"
	PriorityMedium UpdatePriority = "medium"
	PriorityLow    UpdatePriority = "low"
)

// AutoApplyThreshold is the strict lower bound on blended confidence for a
// field proposal to be applied without human review. Exactly 0.80 does not
// qualify.
const AutoApplyThreshold = 0.80

// FieldConflict records one conflicting candidate value for a field,
// attributed to the research query that produced it.
type FieldConflict struct {
	ConflictingValue any     `json:"conflicting_value"`
	SourceQuery      string  `json:"source_query"`
	Confidence       float64 `json:"confidence"`
	Evidence         string  `json:"evidence,omitempty"`
}

// FieldProposal is one proposed change to one field of an existing entity.
// Proposals are transient: they are streamed to the caller and discarded
// unless applied.
type FieldProposal struct {
	Field              string          `json:"field"`
	CurrentValue       any             `json:"current_value"`
	ProposedValue      any             `json:"proposed_value"`
	Confidence         float64         `json:"confidence"`
	ShouldUpdate       bool            `json:"should_update"`
	Reasoning          string          `json:"reasoning,omitempty"`
	Sources            []string        `json:"sources,omitempty"`
	UpdatePriority     UpdatePriority  `json:"update_priority"`
	ValidationErrors   []string        `json:"validation_errors,omitempty"`
	ValidationWarnings []string        `json:"validation_warnings,omitempty"`
	Conflicts          []FieldConflict `json:"conflicts,omitempty"`
	HasConflict        bool            `json:"has_conflict"`
	AutoApproved       bool            `json:"auto_approved"`
}

// ProposalStatus represents the review state of a discovery proposal.
type ProposalStatus string

const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusApproved ProposalStatus = "approved"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// ProposalKind distinguishes operator proposals from terminal proposals.
type ProposalKind string

const (
	ProposalKindOperator ProposalKind = "operator"
	ProposalKindTerminal ProposalKind = "terminal"
)

// DiscoveryProposal is a persisted candidate entity discovered by research,
// awaiting human approve/reject. Approval materializes a new operator or
// terminal and is irreversible.
type DiscoveryProposal struct {
	ID              string         `json:"id"`
	Kind            ProposalKind   `json:"kind"`
	PortID          string         `json:"port_id"`
	Name            string         `json:"name"`
	OperatorType    OperatorType   `json:"operator_type,omitempty"`
	ParentCompanies []string       `json:"parent_companies,omitempty"`
	Capacity        string         `json:"capacity,omitempty"`
	CargoTypes      []string       `json:"cargo_types,omitempty"`
	Coordinates     *Coordinates   `json:"coordinates,omitempty"`
	Locations       []string       `json:"locations,omitempty"`
	Address         string         `json:"address,omitempty"`
	Status          ProposalStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
}
