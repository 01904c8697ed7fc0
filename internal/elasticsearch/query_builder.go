package elasticsearch

import (
	"fmt"
	"time"

	"github.com/reviewguard/reviewguard/internal/domain"
)

// QueryBuilder constructs Elasticsearch query bodies for the detection
// engine. Builders are pure so they can be tested without a cluster.
type QueryBuilder struct{}

// NewQueryBuilder creates a new query builder.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// OverallReviewStats aggregates review count and average rating across a
// business's full history.
func (qb *QueryBuilder) OverallReviewStats(businessID string) map[string]any {
	return map[string]any{
		"size": 0,
		"query": map[string]any{
			"term": map[string]any{"business_id": businessID},
		},
		"aggs": map[string]any{
			"avg_rating": map[string]any{
				"avg": map[string]any{"field": "stars"},
			},
		},
	}
}

// RecentReviewStats aggregates a business's reviews inside the lookback
// window: count, average rating, distinct reviewers, and the suspicious
// subset (reviews flagged is_simulated).
func (qb *QueryBuilder) RecentReviewStats(businessID string, windowHours int) map[string]any {
	return map[string]any{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"business_id": businessID}},
					map[string]any{"range": map[string]any{
						"date": map[string]any{"gte": fmt.Sprintf("now-%dh", windowHours)},
					}},
				},
			},
		},
		"aggs": map[string]any{
			"avg_rating": map[string]any{
				"avg": map[string]any{"field": "stars"},
			},
			"unique_reviewers": map[string]any{
				"cardinality": map[string]any{"field": "user_id"},
			},
			"suspicious": map[string]any{
				"filter": map[string]any{
					"term": map[string]any{"is_simulated": true},
				},
			},
		},
	}
}

// OpenIncident finds the newest non-terminal incident for a business.
func (qb *QueryBuilder) OpenIncident(businessID string) map[string]any {
	statuses := make([]any, 0, len(domain.OpenStatuses))
	for _, s := range domain.OpenStatuses {
		statuses = append(statuses, string(s))
	}

	return map[string]any{
		"size": 1,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"business_id": businessID}},
					map[string]any{"terms": map[string]any{"status": statuses}},
				},
			},
		},
		"sort": []any{
			map[string]any{"detected_at": map[string]any{"order": "desc"}},
		},
	}
}

// IncidentList builds a filtered, paginated incident listing sorted by
// detection time, newest first.
func (qb *QueryBuilder) IncidentList(filter domain.IncidentFilter) map[string]any {
	filters := []any{}
	if filter.Status != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"status": string(filter.Status)},
		})
	}
	if filter.Severity != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"severity": string(filter.Severity)},
		})
	}
	if filter.BusinessID != "" {
		filters = append(filters, map[string]any{
			"term": map[string]any{"business_id": filter.BusinessID},
		})
	}

	var query map[string]any
	if len(filters) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": filters}}
	} else {
		query = map[string]any{"match_all": map[string]any{}}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size < 1 {
		size = 20
	}

	return map[string]any{
		"from":  (page - 1) * size,
		"size":  size,
		"query": query,
		"sort": []any{
			map[string]any{"detected_at": map[string]any{"order": "desc"}},
		},
	}
}

// BusinessByID matches a business document by its business_id field, the
// fallback when documents are not keyed by business_id.
func (qb *QueryBuilder) BusinessByID(businessID string) map[string]any {
	return map[string]any{
		"size": 1,
		"query": map[string]any{
			"term": map[string]any{"business_id": businessID},
		},
	}
}

// RecentActivity groups reviews in the lookback window by business,
// returning the busiest businesses first.
func (qb *QueryBuilder) RecentActivity(windowHours, limit int) map[string]any {
	return map[string]any{
		"size": 0,
		"query": map[string]any{
			"range": map[string]any{
				"date": map[string]any{"gte": fmt.Sprintf("now-%dh", windowHours)},
			},
		},
		"aggs": map[string]any{
			"businesses": map[string]any{
				"terms": map[string]any{
					"field": "business_id",
					"size":  limit,
				},
			},
		},
	}
}

// HoldReviews builds an update-by-query that transitions qualifying
// published reviews to held, stamping held_at and hold_reason. Reviews
// inside the hold window qualify when flagged simulated or carrying the
// low-star attack signal.
func (qb *QueryBuilder) HoldReviews(businessID string, window time.Duration, maxStars float64, reason string, now time.Time) map[string]any {
	windowHours := int(window.Hours())
	if windowHours < 1 {
		windowHours = 1
	}

	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"business_id": businessID}},
					map[string]any{"range": map[string]any{
						"date": map[string]any{"gte": fmt.Sprintf("now-%dh", windowHours)},
					}},
				},
				"should": []any{
					map[string]any{"term": map[string]any{"is_simulated": true}},
					map[string]any{"range": map[string]any{
						"stars": map[string]any{"lte": maxStars},
					}},
				},
				"minimum_should_match": 1,
				"must_not": []any{
					map[string]any{"term": map[string]any{"status": domain.ReviewStatusHeld}},
				},
			},
		},
		"script": map[string]any{
			"source": "ctx._source.status = params.status; ctx._source.held_at = params.held_at; ctx._source.hold_reason = params.reason",
			"lang":   "painless",
			"params": map[string]any{
				"status":  domain.ReviewStatusHeld,
				"held_at": now.UTC().Format(time.RFC3339),
				"reason":  reason,
			},
		},
	}
}
