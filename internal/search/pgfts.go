package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"association/api/internal/activity"
)

// PgFTS searches the generated search_vector column of the activities table.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search ranks matches with ts_rank and cuts snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "a.search_vector @@ plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	if len(q.Statuses) > 0 {
		placeholders := make([]string, 0, len(q.Statuses))
		for _, status := range q.Statuses {
			args = append(args, int(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where += " AND a.status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	var total int
	countSQL := "SELECT count(*) FROM activities a WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "pgfts count")
	}

	dataSQL := fmt.Sprintf(`SELECT a.id, COALESCE(NULLIF(a.name_en, ''), a.name),
			ts_headline('simple', COALESCE(NULLIF(a.description_en, ''), a.description),
				plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30'),
			a.begin_time, a.status
		FROM activities a
		WHERE %s
		ORDER BY ts_rank(a.search_vector, plainto_tsquery('simple', $1)) DESC, a.begin_time
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "pgfts query")
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var status int
		var begin time.Time
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &begin, &status); err != nil {
			return nil, 0, errors.Wrap(err, "pgfts scan")
		}
		r.BeginTime = begin.UTC()
		r.Status = activity.Status(status).String()
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadRecords returns every live activity for full reindexing. Update
// candidates are left out.
func (p *PgFTS) LoadRecords(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, name_en, location, location_en, description, description_en, status, begin_time
		FROM activities
		WHERE status <> $1
	`, int(activity.StatusUpdate))
	if err != nil {
		return nil, errors.Wrap(err, "load activities")
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var begin time.Time
		if err := rows.Scan(&r.ID, &r.Name, &r.NameEn, &r.Location, &r.LocationEn, &r.Description, &r.DescriptionEn, &r.Status, &begin); err != nil {
			return nil, errors.Wrap(err, "scan activity")
		}
		r.BeginTime = begin.Unix()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate activities")
	}
	return records, nil
}
