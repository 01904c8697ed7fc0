package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reviewguard/reviewguard/internal/domain"
)

// ReviewAggregates holds the raw aggregation output for one business: the
// full-history totals and the recent-window activity the classifier reads.
type ReviewAggregates struct {
	TotalReviews    int
	AverageRating   float64
	RecentCount     int
	RecentAverage   float64
	UniqueReviewers int
	SuspiciousCount int
}

// EnsureIndexes provisions the indices this service owns. The reviews and
// businesses indices belong to the upstream dataset and are never created
// here.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	if err := c.EnsureIndex(ctx, c.config.IncidentsIndex, IncidentsMapping()); err != nil {
		return fmt.Errorf("ensure incidents index: %w", err)
	}
	if err := c.EnsureIndex(ctx, c.config.LocksIndex, LocksMapping()); err != nil {
		return fmt.Errorf("ensure locks index: %w", err)
	}
	return nil
}

// AggregateReviewMetrics runs the two review aggregations for a business:
// all-time count and average, then the recent-window count, average, distinct
// reviewer and suspicious counts.
func (c *Client) AggregateReviewMetrics(ctx context.Context, businessID string, windowHours int) (*ReviewAggregates, error) {
	qb := NewQueryBuilder()
	out := &ReviewAggregates{}

	var overall struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
		} `json:"hits"`
		Aggregations struct {
			AvgRating struct {
				Value *float64 `json:"value"`
			} `json:"avg_rating"`
		} `json:"aggregations"`
	}
	if err := c.search(ctx, c.config.ReviewsIndex, qb.OverallReviewStats(businessID), &overall); err != nil {
		return nil, fmt.Errorf("aggregate overall review stats: %w", err)
	}
	out.TotalReviews = overall.Hits.Total.Value
	if overall.Aggregations.AvgRating.Value != nil {
		out.AverageRating = *overall.Aggregations.AvgRating.Value
	}

	var recent struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
		} `json:"hits"`
		Aggregations struct {
			AvgRating struct {
				Value *float64 `json:"value"`
			} `json:"avg_rating"`
			UniqueReviewers struct {
				Value float64 `json:"value"`
			} `json:"unique_reviewers"`
			Suspicious struct {
				DocCount int `json:"doc_count"`
			} `json:"suspicious"`
		} `json:"aggregations"`
	}
	if err := c.search(ctx, c.config.ReviewsIndex, qb.RecentReviewStats(businessID, windowHours), &recent); err != nil {
		return nil, fmt.Errorf("aggregate recent review stats: %w", err)
	}
	out.RecentCount = recent.Hits.Total.Value
	if recent.Aggregations.AvgRating.Value != nil {
		out.RecentAverage = *recent.Aggregations.AvgRating.Value
	}
	out.UniqueReviewers = int(recent.Aggregations.UniqueReviewers.Value)
	out.SuspiciousCount = recent.Aggregations.Suspicious.DocCount

	return out, nil
}

// GetBusiness fetches a business by its business_id. Documents keyed by
// business_id are fetched directly; otherwise a term search resolves them.
func (c *Client) GetBusiness(ctx context.Context, businessID string) (*domain.Business, error) {
	b, _, err := c.resolveBusiness(ctx, businessID)
	return b, err
}

// UpdateBusiness applies a partial update to a business document.
func (c *Client) UpdateBusiness(ctx context.Context, businessID string, fields map[string]any) error {
	_, docID, err := c.resolveBusiness(ctx, businessID)
	if err != nil {
		return err
	}

	body, err := encodeBody(map[string]any{"doc": fields})
	if err != nil {
		return err
	}

	res, err := c.esClient.Update(c.config.BusinessesIndex, docID, body,
		c.esClient.Update.WithContext(ctx),
		c.esClient.Update.WithRefresh("true"))
	if err != nil {
		return fmt.Errorf("update business %s: %w", businessID, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("update business %s [%d]: %s", businessID, res.StatusCode, string(raw))
	}
	return nil
}

func (c *Client) resolveBusiness(ctx context.Context, businessID string) (*domain.Business, string, error) {
	res, err := c.esClient.Get(c.config.BusinessesIndex, businessID,
		c.esClient.Get.WithContext(ctx))
	if err != nil {
		return nil, "", fmt.Errorf("get business %s: %w", businessID, err)
	}

	if res.StatusCode == http.StatusOK {
		var doc struct {
			ID     string          `json:"_id"`
			Source domain.Business `json:"_source"`
		}
		decodeErr := json.NewDecoder(res.Body).Decode(&doc)
		_ = res.Body.Close()
		if decodeErr != nil {
			return nil, "", fmt.Errorf("decode business %s: %w", businessID, decodeErr)
		}
		return &doc.Source, doc.ID, nil
	}
	_ = res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		return nil, "", fmt.Errorf("get business %s: unexpected status %d", businessID, res.StatusCode)
	}

	// The dataset may key documents by an internal id; fall back to a term
	// search on business_id.
	var result struct {
		Hits struct {
			Hits []struct {
				ID     string          `json:"_id"`
				Source domain.Business `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := c.search(ctx, c.config.BusinessesIndex, NewQueryBuilder().BusinessByID(businessID), &result); err != nil {
		return nil, "", fmt.Errorf("search business %s: %w", businessID, err)
	}
	if len(result.Hits.Hits) == 0 {
		return nil, "", domain.ErrBusinessNotFound
	}
	hit := result.Hits.Hits[0]
	return &hit.Source, hit.ID, nil
}

// FindOpenIncident returns the newest non-terminal incident for a business,
// or nil when the business has none. A missing incidents index counts as
// none.
func (c *Client) FindOpenIncident(ctx context.Context, businessID string) (*domain.Incident, error) {
	var result struct {
		Hits struct {
			Hits []struct {
				Source domain.Incident `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	err := c.search(ctx, c.config.IncidentsIndex, NewQueryBuilder().OpenIncident(businessID), &result)
	if err != nil {
		if isIndexMissing(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open incident for %s: %w", businessID, err)
	}
	if len(result.Hits.Hits) == 0 {
		return nil, nil
	}
	inc := result.Hits.Hits[0].Source
	return &inc, nil
}

// GetIncident fetches an incident by id.
func (c *Client) GetIncident(ctx context.Context, incidentID string) (*domain.Incident, error) {
	res, err := c.esClient.Get(c.config.IncidentsIndex, incidentID,
		c.esClient.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", incidentID, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusNotFound {
		return nil, domain.ErrIncidentNotFound
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if isNotFoundBody(raw) {
			return nil, domain.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident %s [%d]: %s", incidentID, res.StatusCode, string(raw))
	}

	var doc struct {
		Source domain.Incident `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode incident %s: %w", incidentID, err)
	}
	return &doc.Source, nil
}

// IndexIncident writes an incident document keyed by its incident id. The
// write is refreshed so dedup lookups see it immediately.
func (c *Client) IndexIncident(ctx context.Context, incident *domain.Incident) error {
	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("marshal incident %s: %w", incident.IncidentID, err)
	}

	res, err := c.esClient.Index(c.config.IncidentsIndex, bytes.NewReader(data),
		c.esClient.Index.WithDocumentID(incident.IncidentID),
		c.esClient.Index.WithRefresh("true"),
		c.esClient.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index incident %s: %w", incident.IncidentID, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if isNotFoundBody(raw) {
			return domain.ErrIncidentIndexMissing
		}
		return fmt.Errorf("index incident %s [%d]: %s", incident.IncidentID, res.StatusCode, string(raw))
	}
	return nil
}

// UpdateIncident applies a partial update to an incident document.
func (c *Client) UpdateIncident(ctx context.Context, incidentID string, fields map[string]any) error {
	body, err := encodeBody(map[string]any{"doc": fields})
	if err != nil {
		return err
	}

	res, err := c.esClient.Update(c.config.IncidentsIndex, incidentID, body,
		c.esClient.Update.WithContext(ctx),
		c.esClient.Update.WithRefresh("true"))
	if err != nil {
		return fmt.Errorf("update incident %s: %w", incidentID, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusNotFound {
		return domain.ErrIncidentNotFound
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("update incident %s [%d]: %s", incidentID, res.StatusCode, string(raw))
	}
	return nil
}

// DeleteIncident removes an incident document.
func (c *Client) DeleteIncident(ctx context.Context, incidentID string) error {
	res, err := c.esClient.Delete(c.config.IncidentsIndex, incidentID,
		c.esClient.Delete.WithContext(ctx),
		c.esClient.Delete.WithRefresh("true"))
	if err != nil {
		return fmt.Errorf("delete incident %s: %w", incidentID, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusNotFound {
		return domain.ErrIncidentNotFound
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("delete incident %s [%d]: %s", incidentID, res.StatusCode, string(raw))
	}
	return nil
}

// SearchIncidents lists incidents matching a filter, newest first.
func (c *Client) SearchIncidents(ctx context.Context, filter domain.IncidentFilter) (*domain.IncidentSearchResult, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size < 1 {
		size = 20
	}

	var result struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source domain.Incident `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	err := c.search(ctx, c.config.IncidentsIndex, NewQueryBuilder().IncidentList(filter), &result)
	if err != nil {
		if isIndexMissing(err) {
			return &domain.IncidentSearchResult{Incidents: []*domain.Incident{}, Page: page, PageSize: size}, nil
		}
		return nil, fmt.Errorf("search incidents: %w", err)
	}

	incidents := make([]*domain.Incident, 0, len(result.Hits.Hits))
	for i := range result.Hits.Hits {
		inc := result.Hits.Hits[i].Source
		incidents = append(incidents, &inc)
	}

	return &domain.IncidentSearchResult{
		Incidents: incidents,
		Total:     result.Hits.Total.Value,
		Page:      page,
		PageSize:  size,
	}, nil
}

// AcquireOpenLock writes the per-business guard document with op_type
// create. Exactly one concurrent caller wins; the rest get ErrLockHeld.
func (c *Client) AcquireOpenLock(ctx context.Context, businessID, incidentID string) error {
	data, err := json.Marshal(map[string]any{
		"business_id": businessID,
		"incident_id": incidentID,
		"acquired_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal open lock for %s: %w", businessID, err)
	}

	res, err := c.esClient.Create(c.config.LocksIndex, businessID, bytes.NewReader(data),
		c.esClient.Create.WithContext(ctx),
		c.esClient.Create.WithRefresh("true"))
	if err != nil {
		return fmt.Errorf("acquire open lock for %s: %w", businessID, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusConflict {
		return domain.ErrLockHeld
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("acquire open lock for %s [%d]: %s", businessID, res.StatusCode, string(raw))
	}
	return nil
}

// GetOpenLock returns the incident id recorded in the guard document, or
// empty when no guard exists.
func (c *Client) GetOpenLock(ctx context.Context, businessID string) (string, error) {
	res, err := c.esClient.Get(c.config.LocksIndex, businessID,
		c.esClient.Get.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("get open lock for %s: %w", businessID, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if isNotFoundBody(raw) {
			return "", nil
		}
		return "", fmt.Errorf("get open lock for %s [%d]: %s", businessID, res.StatusCode, string(raw))
	}

	var doc struct {
		Source struct {
			IncidentID string `json:"incident_id"`
		} `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode open lock for %s: %w", businessID, err)
	}
	return doc.Source.IncidentID, nil
}

// ReleaseOpenLock deletes the per-business guard document. A missing guard
// is fine; resolve must stay idempotent.
func (c *Client) ReleaseOpenLock(ctx context.Context, businessID string) error {
	res, err := c.esClient.Delete(c.config.LocksIndex, businessID,
		c.esClient.Delete.WithContext(ctx),
		c.esClient.Delete.WithRefresh("true"))
	if err != nil {
		return fmt.Errorf("release open lock for %s: %w", businessID, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if isNotFoundBody(raw) {
			return nil
		}
		return fmt.Errorf("release open lock for %s [%d]: %s", businessID, res.StatusCode, string(raw))
	}
	return nil
}

// HoldReviews transitions qualifying published reviews to held via
// update-by-query and returns how many were updated.
func (c *Client) HoldReviews(ctx context.Context, businessID string, window time.Duration, maxStars float64, reason string) (int, error) {
	query := NewQueryBuilder().HoldReviews(businessID, window, maxStars, reason, time.Now())
	body, err := encodeBody(query)
	if err != nil {
		return 0, err
	}

	res, err := c.esClient.UpdateByQuery([]string{c.config.ReviewsIndex},
		c.esClient.UpdateByQuery.WithBody(body),
		c.esClient.UpdateByQuery.WithContext(ctx),
		c.esClient.UpdateByQuery.WithRefresh(true),
		c.esClient.UpdateByQuery.WithConflicts("proceed"))
	if err != nil {
		return 0, fmt.Errorf("hold reviews for %s: %w", businessID, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("hold reviews for %s [%d]: %s", businessID, res.StatusCode, string(raw))
	}

	var result struct {
		Updated int `json:"updated"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode hold result for %s: %w", businessID, err)
	}
	return result.Updated, nil
}

// BusinessesWithRecentActivity returns the ids of businesses with reviews
// inside the lookback window, busiest first, capped at limit.
func (c *Client) BusinessesWithRecentActivity(ctx context.Context, windowHours, limit int) ([]string, error) {
	var result struct {
		Aggregations struct {
			Businesses struct {
				Buckets []struct {
					Key string `json:"key"`
				} `json:"buckets"`
			} `json:"businesses"`
		} `json:"aggregations"`
	}
	err := c.search(ctx, c.config.ReviewsIndex, NewQueryBuilder().RecentActivity(windowHours, limit), &result)
	if err != nil {
		return nil, fmt.Errorf("aggregate recent activity: %w", err)
	}

	ids := make([]string, 0, len(result.Aggregations.Businesses.Buckets))
	for _, bucket := range result.Aggregations.Businesses.Buckets {
		ids = append(ids, bucket.Key)
	}
	return ids, nil
}

// CountProtectedBusinesses counts businesses currently under rating
// protection.
func (c *Client) CountProtectedBusinesses(ctx context.Context) (int64, error) {
	return c.count(ctx, c.config.BusinessesIndex, map[string]any{
		"query": map[string]any{
			"term": map[string]any{"rating_protected": true},
		},
	})
}

// CountHeldReviews counts reviews currently in the held state.
func (c *Client) CountHeldReviews(ctx context.Context) (int64, error) {
	return c.count(ctx, c.config.ReviewsIndex, map[string]any{
		"query": map[string]any{
			"term": map[string]any{"status": domain.ReviewStatusHeld},
		},
	})
}

// IncidentStatusCounts returns incident counts grouped by status.
func (c *Client) IncidentStatusCounts(ctx context.Context) (map[string]int64, error) {
	query := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"by_status": map[string]any{
				"terms": map[string]any{"field": "status", "size": 10},
			},
		},
	}

	var result struct {
		Aggregations struct {
			ByStatus struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int64  `json:"doc_count"`
				} `json:"buckets"`
			} `json:"by_status"`
		} `json:"aggregations"`
	}
	err := c.search(ctx, c.config.IncidentsIndex, query, &result)
	if err != nil {
		if isIndexMissing(err) {
			return map[string]int64{}, nil
		}
		return nil, fmt.Errorf("aggregate incident statuses: %w", err)
	}

	counts := make(map[string]int64, len(result.Aggregations.ByStatus.Buckets))
	for _, bucket := range result.Aggregations.ByStatus.Buckets {
		counts[bucket.Key] = bucket.DocCount
	}
	return counts, nil
}

// search executes a query against an index and decodes the response into out.
func (c *Client) search(ctx context.Context, index string, query map[string]any, out any) error {
	body, err := encodeBody(query)
	if err != nil {
		return err
	}

	res, err := c.esClient.Search(
		c.esClient.Search.WithContext(ctx),
		c.esClient.Search.WithIndex(index),
		c.esClient.Search.WithBody(body),
	)
	if err != nil {
		return fmt.Errorf("search %s: %w", index, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if isNotFoundBody(raw) {
			return errIndexMissing
		}
		return fmt.Errorf("search %s [%d]: %s", index, res.StatusCode, string(raw))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response from %s: %w", index, err)
	}
	return nil
}

func (c *Client) count(ctx context.Context, index string, query map[string]any) (int64, error) {
	body, err := encodeBody(query)
	if err != nil {
		return 0, err
	}

	res, err := c.esClient.Count(
		c.esClient.Count.WithContext(ctx),
		c.esClient.Count.WithIndex(index),
		c.esClient.Count.WithBody(body),
	)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", index, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if isNotFoundBody(raw) {
			return 0, nil
		}
		return 0, fmt.Errorf("count %s [%d]: %s", index, res.StatusCode, string(raw))
	}

	var result struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode count response from %s: %w", index, err)
	}
	return result.Count, nil
}
