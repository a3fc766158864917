// Package apptype defines the shared data types for the knowledge graph.
package apptype

import "time"

// Properties is the free-form JSON metadata bag attached to entities,
// observations, and relations.
type Properties map[string]any

// Entity represents a node in the knowledge graph: a named, typed code
// artifact such as a function, module, or concept.
type Entity struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	EntityType string     `json:"entity_type"`
	Embedding  []float32  `json:"embedding,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Properties Properties `json:"properties,omitempty"`
}

// Observation is an immutable timestamped note attached to an entity.
// Observations are added and deleted, never updated.
type Observation struct {
	ID          string     `json:"id"`
	EntityID    string     `json:"entity_id"`
	Observation string     `json:"observation"`
	Embedding   []float32  `json:"embedding,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Properties  Properties `json:"properties,omitempty"`
}

// Relation is a directed, typed edge between two entities with a
// confidence score in [0, 1].
type Relation struct {
	ID           string     `json:"id"`
	FromEntityID string     `json:"from_entity_id"`
	ToEntityID   string     `json:"to_entity_id"`
	RelationType string     `json:"relation_type"`
	Confidence   float64    `json:"confidence"`
	CreatedAt    time.Time  `json:"created_at"`
	Properties   Properties `json:"properties,omitempty"`
}

// RelationInfo is a relation joined with its endpoint names, as returned
// by relation queries. Direction is "outgoing" or "incoming" relative to
// the entity the query was issued for.
type RelationInfo struct {
	Relation
	FromEntityName string `json:"from_entity_name"`
	ToEntityName   string `json:"to_entity_name"`
	Direction      string `json:"direction"`
}

// SearchHit is a ranked search result. Similarity is in [0, 1].
type SearchHit struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	EntityType       string     `json:"entity_type"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Properties       Properties `json:"properties,omitempty"`
	Similarity       float64    `json:"similarity"`
	ObservationCount int        `json:"observation_count"`
}

// TypeCount is a per-type row count used in stats breakdowns.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// ObservedEntity pairs an entity with its observation count for the
// most-observed ranking in stats.
type ObservedEntity struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	EntityType       string `json:"entity_type"`
	ObservationCount int64  `json:"observation_count"`
}

// Stats is a point-in-time summary of the graph contents.
type Stats struct {
	EntityCount      int64            `json:"entity_count"`
	RelationCount    int64            `json:"relation_count"`
	ObservationCount int64            `json:"observation_count"`
	EntityTypes      []TypeCount      `json:"entity_types"`
	RelationTypes    []TypeCount      `json:"relation_types"`
	MostObserved     []ObservedEntity `json:"most_observed"`
	FileSizeBytes    int64            `json:"file_size_bytes"`
	FileSizeMB       float64          `json:"file_size_mb"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// ClearResult reports how many rows a Clear removed.
type ClearResult struct {
	EntityCount      int64 `json:"entity_count"`
	RelationCount    int64 `json:"relation_count"`
	ObservationCount int64 `json:"observation_count"`
}

// BackupInfo describes the artifacts written by a Backup.
type BackupInfo struct {
	DatabasePath string    `json:"database_path"`
	StatsPath    string    `json:"stats_path"`
	CreatedAt    time.Time `json:"created_at"`
}
