package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"association/api/internal/activity"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

var activityRowColumns = []string{
	"id", "version", "name", "name_en", "begin_time", "end_time", "location", "location_en",
	"costs", "costs_en", "description", "description_en", "organ_id", "company_id",
	"creator_id", "approver_id", "is_my_future", "require_geflitst", "status",
	"signup_lists", "created_at",
}

func TestGetActivityLoadsCategoriesAndSignupLists(t *testing.T) {
	s, mock := newMockStore(t)
	begin := time.Date(2026, 11, 20, 20, 0, 0, 0, time.UTC)
	lists := []byte(`[{"id":1,"name":{"nl":"Aanmelden","en":"Sign up"},"openDate":"2026-11-01T09:00:00Z","closeDate":"2026-11-19T23:59:00Z","onlyGEWIS":true,"displaySubscribedNumber":false,"fields":[]}]`)

	mock.ExpectQuery(`(?s)SELECT .+ FROM activities WHERE id=\$1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(activityRowColumns).AddRow(
			int64(42), int64(3), "Borrel", "Drinks", begin, begin.Add(3*time.Hour), "Zaal", "Hall",
			"Gratis", "Free", "Gezellig", "Cosy", int64(7), nil,
			"usr_1", nil, false, true, int64(2),
			lists, begin.Add(-24*time.Hour),
		))
	mock.ExpectQuery(`SELECT c.id, c.name, c.name_en\s+FROM activity_categories`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "name_en"}).AddRow(int64(1), "Sociaal", "Social"))

	item, err := s.GetActivity(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, int64(3), item.Version)
	assert.Equal(t, activity.StatusApproved, item.Status)
	require.NotNil(t, item.OrganID)
	assert.Equal(t, int64(7), *item.OrganID)
	assert.Nil(t, item.CompanyID)
	assert.Nil(t, item.ApproverID)
	assert.True(t, item.RequireGEFLITST)
	require.Len(t, item.SignupLists, 1)
	assert.Equal(t, "Sign up", item.SignupLists[0].Name.English)
	assert.Equal(t, []activity.Category{{ID: 1, Name: activity.LocalisedText{Dutch: "Sociaal", English: "Social"}}}, item.Categories)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActivityMissingIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`(?s)SELECT .+ FROM activities WHERE id=\$1`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(activityRowColumns))

	_, err := s.GetActivity(context.Background(), 9)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetActivityStatusStaleVersion(t *testing.T) {
	s, mock := newMockStore(t)
	approver := "usr_board"

	mock.ExpectQuery(`UPDATE activities SET status=\$1, approver_id=\$2, version=version\+1`).
		WithArgs(int(activity.StatusApproved), approver, int64(42), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM activities WHERE id=\$1\)`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := s.SetActivityStatus(context.Background(), 42, 1, activity.StatusApproved, &approver)
	assert.Equal(t, ErrConcurrentModification, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteActivityMissingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM activities WHERE id=\$1 AND version=\$2`).
		WithArgs(int64(5), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := s.DeleteActivity(context.Background(), 5, 1)
	assert.Equal(t, ErrNotFound, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertProposalUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO activity_update_proposals`).
		WithArgs(int64(1), int64(2), "usr_1").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.InsertProposal(context.Background(), &Proposal{OldID: 1, NewID: 2, CreatorID: "usr_1"})
	assert.Equal(t, ErrConcurrentModification, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebindProposalRequiresExpectedCandidate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE activity_update_proposals SET new_id=\$1 WHERE id=\$2 AND new_id=\$3`).
		WithArgs(int64(30), int64(4), int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RebindProposal(context.Background(), 4, 20, 30)
	assert.Equal(t, ErrConcurrentModification, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM activity_update_proposals WHERE id=\$1`).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.DeleteProposal(ctx, 4)
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM activity_update_proposals WHERE id=\$1`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.DeleteProposal(ctx, 5)
	})
	assert.Equal(t, ErrNotFound, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActivitiesFiltersByStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM activities WHERE status IN \(\$1, \$2\) ORDER BY begin_time, id LIMIT \$3`).
		WithArgs(int(activity.StatusToApprove), int(activity.StatusApproved), 10).
		WillReturnRows(sqlmock.NewRows(activityRowColumns))

	items, err := s.ListActivities(context.Background(), ActivityFilter{
		Statuses: []activity.Status{activity.StatusToApprove, activity.StatusApproved},
		Limit:    10,
	})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}
