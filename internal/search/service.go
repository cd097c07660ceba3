// Package search finds activities by text, preferring Meilisearch and
// falling back to a database-backed searcher.
package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Service is the facade that tries Meilisearch first and falls back to
// the database searcher.
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   logrus.FieldLogger
	wg       sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Searcher, logger logrus.FieldLogger) *Service {
	return &Service{meili: meili, fallback: fallback, logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.WithError(err).Warn("meilisearch failed, falling back")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.WithError(err).Error("fallback search failed")
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) indexing() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Index pushes an activity to Meilisearch in the background.
func (s *Service) Index(record Record) {
	if !s.indexing() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.meili.Index(record); err != nil {
			s.logger.WithError(err).WithField("activity_id", record.ID).Error("index activity")
		}
	}()
}

// Delete removes an activity from Meilisearch in the background.
func (s *Service) Delete(id int64) {
	if !s.indexing() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.meili.Delete(id); err != nil {
			s.logger.WithError(err).WithField("activity_id", id).Error("delete activity from index")
		}
	}()
}

// Reindex loads every activity and pushes it to Meilisearch. Called during
// bootstrap.
func (s *Service) Reindex(ctx context.Context, loader Loader) {
	if !s.indexing() || loader == nil {
		return
	}
	records, err := loader.LoadRecords(ctx)
	if err != nil {
		s.logger.WithError(err).Error("reindex load failed")
		return
	}
	if err := s.meili.Index(records...); err != nil {
		s.logger.WithError(err).Error("reindex failed")
	}
}

// Wait blocks until background index updates have been handed off.
func (s *Service) Wait() {
	s.wg.Wait()
}

// ListSearcher matches search terms as case-insensitive substrings. It
// serves deployments without Postgres, where there is no text index.
type ListSearcher struct {
	load func(ctx context.Context) ([]Record, error)
}

func NewListSearcher(load func(ctx context.Context) ([]Record, error)) *ListSearcher {
	return &ListSearcher{load: load}
}

func (l *ListSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}
	records, err := l.load(ctx)
	if err != nil {
		return nil, 0, err
	}

	var matched []Record
	for _, record := range records {
		if statusAllowed(q.Statuses, record.Status) && record.matches(terms) {
			matched = append(matched, record)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].BeginTime != matched[j].BeginTime {
			return matched[i].BeginTime < matched[j].BeginTime
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 || offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-offset)
	for _, record := range matched[offset:end] {
		results = append(results, record.result())
	}
	return results, total, nil
}

// LoadRecords lets a ListSearcher serve as a reindex source too.
func (l *ListSearcher) LoadRecords(ctx context.Context) ([]Record, error) {
	return l.load(ctx)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
