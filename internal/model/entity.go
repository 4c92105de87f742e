package model

import "time"

// Cluster is a geographic grouping of ports.
type Cluster struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Region    string    `json:"region,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PortSize is the enum-like size classification of a port.
type PortSize string

const (
	PortSizeSmall  PortSize = "small"
	PortSizeMedium PortSize = "medium"
	PortSizeLarge  PortSize = "large"
	PortSizeMajor  PortSize = "major"
)

// PortSizes lists all valid port size values.
var PortSizes = []string{
	string(PortSizeSmall),
	string(PortSizeMedium),
	string(PortSizeLarge),
	string(PortSizeMajor),
}

// StrategicImportance is the enum-like strategic weight of a port.
type StrategicImportance string

const (
	ImportanceLow      StrategicImportance = "low"
	ImportanceMedium   StrategicImportance = "medium"
	ImportanceHigh     StrategicImportance = "high"
	ImportanceCritical StrategicImportance = "critical"
)

// StrategicImportances lists all valid strategic importance values.
var StrategicImportances = []string{
	string(ImportanceLow),
	string(ImportanceMedium),
	string(ImportanceHigh),
	string(ImportanceCritical),
}

// Port is a seaport belonging to exactly one cluster.
type Port struct {
	ID             string              `json:"id"`
	ClusterID      string              `json:"cluster_id"`
	Name           string              `json:"name"`
	Country        string              `json:"country,omitempty"`
	Coordinates    *Coordinates        `json:"coordinates,omitempty"`
	Size           PortSize            `json:"size,omitempty"`
	Importance     StrategicImportance `json:"importance,omitempty"`
	AnnualCapacity string              `json:"annual_capacity,omitempty"`
	CargoTypes     []string            `json:"cargo_types,omitempty"`
	Notes          string              `json:"notes,omitempty"`
	ResearchReport string              `json:"research_report,omitempty"`
	ResearchedAt   *time.Time          `json:"researched_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// OperatorType classifies a terminal operator.
type OperatorType string

const (
	OperatorTypeGlobalCarrier    OperatorType = "global carrier"
	OperatorTypeTerminalOperator OperatorType = "terminal operator"
	OperatorTypePortAuthority    OperatorType = "port authority"
	OperatorTypeLogistics        OperatorType = "logistics company"
	OperatorTypeStevedore        OperatorType = "stevedore"
)

// OperatorTypes lists all valid operator type values.
var OperatorTypes = []string{
	string(OperatorTypeGlobalCarrier),
	string(OperatorTypeTerminalOperator),
	string(OperatorTypePortAuthority),
	string(OperatorTypeLogistics),
	string(OperatorTypeStevedore),
}

// TerminalOperator is a company operating one or more terminals at a port.
type TerminalOperator struct {
	ID              string       `json:"id"`
	PortID          string       `json:"port_id"`
	Name            string       `json:"name"`
	OperatorType    OperatorType `json:"operator_type,omitempty"`
	ParentCompanies []string     `json:"parent_companies,omitempty"`
	Capacity        string       `json:"capacity,omitempty"`
	CargoTypes      []string     `json:"cargo_types,omitempty"`
	Coordinates     *Coordinates `json:"coordinates,omitempty"`
	Locations       []string     `json:"locations,omitempty"`
	Address         string       `json:"address,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	ResearchReport  string       `json:"research_report,omitempty"`
	ResearchedAt    *time.Time   `json:"researched_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Terminal is a physical terminal facility at a port.
type Terminal struct {
	ID          string       `json:"id"`
	PortID      string       `json:"port_id"`
	Name        string       `json:"name"`
	Address     string       `json:"address,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
