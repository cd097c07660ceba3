package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const idxActivities = "activities"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  logrus.FieldLogger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the activity index.
// An unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string, logger logrus.FieldLogger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.WithField("component", "meilisearch"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.WithError(err).WithField("url", url).Warn("meilisearch unavailable")
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxActivities,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.WithError(err).Debug("create index (may already exist)")
	}

	index := m.client.Index(idxActivities)
	filterable := []interface{}{"status", "beginTime"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.WithError(err).Warn("update filterable attributes")
	}
	searchable := []string{"name", "nameEn", "location", "locationEn", "description", "descriptionEn"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.WithError(err).Warn("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errors.New("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxActivities,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filter := statusFilter(q); filter != "" {
		sr.Filter = filter
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, errors.Wrap(err, "meilisearch search")
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func statusFilter(q Query) string {
	if len(q.Statuses) == 0 {
		return ""
	}
	values := make([]string, 0, len(q.Statuses))
	for _, status := range q.Statuses {
		values = append(values, fmt.Sprint(int(status)))
	}
	return "status IN [" + strings.Join(values, ", ") + "]"
}

func hitToResult(hit meili.Hit) Result {
	var record Record
	record.ID = decodeInt(hit, "id")
	record.Name = decodeString(hit, "name")
	record.NameEn = decodeString(hit, "nameEn")
	record.Description = decodeString(hit, "description")
	record.DescriptionEn = decodeString(hit, "descriptionEn")
	record.Status = int(decodeInt(hit, "status"))
	record.BeginTime = decodeInt(hit, "beginTime")

	r := record.result()
	r.Title = firstNonBlank(decodeFormattedString(hit, "nameEn"), decodeFormattedString(hit, "name"), r.Title)
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "descriptionEn"), decodeFormattedString(hit, "description"), r.Snippet)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

// Index adds or replaces activities in the index.
func (m *Meili) Index(records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxActivities).AddDocuments(records, nil)
	return err
}

// Delete removes an activity from the index.
func (m *Meili) Delete(id int64) error {
	_, err := m.client.Index(idxActivities).DeleteDocument(fmt.Sprint(id), nil)
	return err
}
