package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ItemTypeService   = "service"
	ItemTypeOperation = "operation"

	RelationTypeCalls = "calls"
	RelationTypeHosts = "hosts"
)

// Topology is the full snapshot submitted to the relation-graph service.
// Each submission is authoritative for the current generation: items absent
// from the snapshot are treated as deleted by the sink.
type Topology struct {
	Domain Domain `json:"domain"`
	Items  World  `json:"items"`
}

type Domain struct {
	Roots []uuid.UUID `json:"roots"`
	Types TypeSet     `json:"types"`
}

type TypeSet struct {
	Items     []string `json:"items"`
	Relations []string `json:"relations"`
}

type World struct {
	Items     map[uuid.UUID]Item     `json:"items"`
	Relations map[uuid.UUID]Relation `json:"relations"`
}

type Item struct {
	ItemType   string                 `json:"item_type"`
	Parent     *uuid.UUID             `json:"parent,omitempty"`
	Properties map[string]interface{} `json:"properties"`
}

type Relation struct {
	RelationType string    `json:"relation_type"`
	Source       uuid.UUID `json:"source"`
	Target       uuid.UUID `json:"target"`
}

// TickOutput summarises one completed discovery tick. Published on the event
// bus after the topology has been submitted and the cursor committed.
type TickOutput struct {
	SpansProcessed int       `json:"spans_processed"`
	Services       int       `json:"services"`
	Operations     int       `json:"operations"`
	Relations      int       `json:"relations"`
	Cursor         time.Time `json:"cursor"`
	DurationMs     int64     `json:"duration_ms"`
}
