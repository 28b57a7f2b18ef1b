// Package recall implements the read/retrieval path: hybrid search over
// vector, full-text, and graph-proximity candidates fused by Reciprocal
// Rank Fusion or a weighted sum, plus the named lookup operations
// (recall_about, entity_overview, recall_upcoming_deadlines, ...).
package recall

import "github.com/claudia-memory/claudia/internal/config"

// Options tunes candidate fusion; defaults come from the config keys.
type Options struct {
	MaxResults            int
	EnableRRF             bool
	RRFK                  int
	VectorWeight          float64
	ImportanceWeight      float64
	RecencyWeight         float64
	FTSWeight             float64
	GraphProximityEnabled bool
	GraphProximityWeight  float64
	RecencyHalfLifeDays   float64
}

// OptionsFromConfig reads every fusion-relevant key out of the global
// config package.
func OptionsFromConfig() Options {
	return Options{
		MaxResults:            config.GetInt("max_recall_results"),
		EnableRRF:             config.GetBool("enable_rrf"),
		RRFK:                  config.GetInt("rrf_k"),
		VectorWeight:          config.GetFloat64("vector_weight"),
		ImportanceWeight:      config.GetFloat64("importance_weight"),
		RecencyWeight:         config.GetFloat64("recency_weight"),
		FTSWeight:             config.GetFloat64("fts_weight"),
		GraphProximityEnabled: config.GetBool("graph_proximity_enabled"),
		GraphProximityWeight:  config.GetFloat64("graph_proximity_weight"),
		RecencyHalfLifeDays:   float64(config.GetInt("recency_half_life_days")),
	}
}
