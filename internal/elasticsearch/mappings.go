package elasticsearch

// IncidentsMapping returns the index mapping for incident documents.
// Identifier and enum fields are keywords so filters and sorts stay exact.
func IncidentsMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"incident_id":   map[string]any{"type": "keyword"},
				"business_id":   map[string]any{"type": "keyword"},
				"business_name": map[string]any{"type": "text"},
				"status":        map[string]any{"type": "keyword"},
				"severity":      map[string]any{"type": "keyword"},
				"detected_at":   map[string]any{"type": "date"},
				"resolved_at":   map[string]any{"type": "date"},
				"description":   map[string]any{"type": "text"},
				"metrics": map[string]any{
					"properties": map[string]any{
						"review_count":             map[string]any{"type": "integer"},
						"unique_attacker_estimate": map[string]any{"type": "integer"},
						"average_rating":           map[string]any{"type": "float"},
						"rating_drop":              map[string]any{"type": "float"},
						"reviews_per_minute":       map[string]any{"type": "float"},
					},
				},
				"resolution":           map[string]any{"type": "text"},
				"response_actions":     map[string]any{"type": "keyword"},
				"response_executed_at": map[string]any{"type": "date"},
				"notes":                map[string]any{"type": "text"},
				"last_updated":         map[string]any{"type": "date"},
			},
		},
	}
}

// LocksMapping returns the index mapping for open-incident guard documents.
// One document per business, keyed by business_id, created with op_type
// create so concurrent detections race on a single atomic write.
func LocksMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"business_id": map[string]any{"type": "keyword"},
				"incident_id": map[string]any{"type": "keyword"},
				"acquired_at": map[string]any{"type": "date"},
			},
		},
	}
}
