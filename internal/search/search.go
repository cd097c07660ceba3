package search

import (
	"context"
	"strings"
	"time"

	"association/api/internal/activity"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
	BeginTime time.Time `json:"beginTime"`
	Status    string    `json:"status"`
}

// Query describes a search request. Statuses restricts hits to activities
// in one of the given states; empty means any state.
type Query struct {
	Text     string
	Statuses []activity.Status
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// Loader returns every searchable activity for a full reindex.
type Loader interface {
	LoadRecords(ctx context.Context) ([]Record, error)
}

// Record is the data we index for an activity.
type Record struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	NameEn        string `json:"nameEn"`
	Location      string `json:"location"`
	LocationEn    string `json:"locationEn"`
	Description   string `json:"description"`
	DescriptionEn string `json:"descriptionEn"`
	Status        int    `json:"status"`
	BeginTime     int64  `json:"beginTime"`
}

func RecordFromActivity(item activity.Activity) Record {
	return Record{
		ID:            item.ID,
		Name:          item.Name.Dutch,
		NameEn:        item.Name.English,
		Location:      item.Location.Dutch,
		LocationEn:    item.Location.English,
		Description:   item.Description.Dutch,
		DescriptionEn: item.Description.English,
		Status:        int(item.Status),
		BeginTime:     item.BeginTime.Unix(),
	}
}

func (r Record) result() Result {
	return Result{
		ID:        r.ID,
		Title:     firstNonBlank(r.NameEn, r.Name),
		Snippet:   snippet(firstNonBlank(r.DescriptionEn, r.Description)),
		BeginTime: time.Unix(r.BeginTime, 0).UTC(),
		Status:    activity.Status(r.Status).String(),
	}
}

func (r Record) matches(terms []string) bool {
	haystack := strings.ToLower(strings.Join([]string{
		r.Name, r.NameEn, r.Location, r.LocationEn, r.Description, r.DescriptionEn,
	}, " "))
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

const snippetWords = 30

func snippet(text string) string {
	words := strings.Fields(text)
	if len(words) <= snippetWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:snippetWords], " ") + " ..."
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func statusAllowed(statuses []activity.Status, status int) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if int(s) == status {
			return true
		}
	}
	return false
}
