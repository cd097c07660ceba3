package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"association/api/internal/activity"
)

const uniqueViolation = "23505"

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
	q  queryer
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// WithTx runs fn in a transaction and commits when it returns nil.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Users and sessions

const userColumns = `id, email, display_name, password_hash, role, created_at`

func (s *PostgresStore) scanUser(ctx context.Context, row *sql.Row) (User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt); err != nil {
		return User{}, notFound(err)
	}
	organs, err := s.userOrgans(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Organs = organs
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(ctx, s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(ctx, s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) userOrgans(ctx context.Context, userID string) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT organ_id FROM organ_members WHERE user_id=$1 ORDER BY organ_id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user organs")
	}
	defer rows.Close()

	var organs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan user organ")
		}
		organs = append(organs, id)
	}
	return organs, rows.Err()
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Role)
	if isUniqueViolation(err) {
		return ErrConcurrentModification
	}
	return errors.Wrap(err, "insert user")
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count users")
	}
	return count, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, passwordHash, userID)
	return errors.Wrap(err, "update password")
}

func (s *PostgresStore) AddOrganMember(ctx context.Context, organID int64, userID string) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO organ_members (organ_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, organID, userID)
	return errors.Wrap(err, "add organ member")
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	return errors.Wrap(err, "create password reset")
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.q.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", notFound(err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	return errors.Wrap(err, "mark password reset used")
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	return errors.Wrap(err, "save refresh session")
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	return errors.Wrap(err, "revoke refresh session")
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var userID string
	err := s.q.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return User{}, notFound(err)
	}
	return s.GetUserByID(ctx, userID)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	return errors.Wrap(err, "revoke access token")
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, errors.Wrap(err, "check access token")
	}
	return revoked, nil
}

// Reference data

func (s *PostgresStore) CreateOrgan(ctx context.Context, organ Organ) (Organ, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO organs (abbr, name, email) VALUES ($1, $2, $3) RETURNING id
	`, organ.Abbr, organ.Name, organ.Email).Scan(&organ.ID)
	if err != nil {
		return Organ{}, errors.Wrap(err, "insert organ")
	}
	return organ, nil
}

func (s *PostgresStore) GetOrgan(ctx context.Context, id int64) (Organ, error) {
	var organ Organ
	err := s.q.QueryRowContext(ctx, `SELECT id, abbr, name, email FROM organs WHERE id=$1`, id).
		Scan(&organ.ID, &organ.Abbr, &organ.Name, &organ.Email)
	if err != nil {
		return Organ{}, notFound(err)
	}
	return organ, nil
}

func (s *PostgresStore) CreateCompany(ctx context.Context, company Company) (Company, error) {
	err := s.q.QueryRowContext(ctx, `INSERT INTO companies (name) VALUES ($1) RETURNING id`, company.Name).Scan(&company.ID)
	if err != nil {
		return Company{}, errors.Wrap(err, "insert company")
	}
	return company, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, id int64) (Company, error) {
	var company Company
	err := s.q.QueryRowContext(ctx, `SELECT id, name FROM companies WHERE id=$1`, id).Scan(&company.ID, &company.Name)
	if err != nil {
		return Company{}, notFound(err)
	}
	return company, nil
}

func (s *PostgresStore) CreateCategory(ctx context.Context, category activity.Category) (activity.Category, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO categories (name, name_en) VALUES ($1, $2) RETURNING id
	`, category.Name.Dutch, category.Name.English).Scan(&category.ID)
	if err != nil {
		return activity.Category{}, errors.Wrap(err, "insert category")
	}
	return category, nil
}

func (s *PostgresStore) CountCategories(ctx context.Context) (int, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count categories")
	}
	return count, nil
}

// ListCategories returns the categories in the order of ids. Unknown ids
// yield ErrNotFound.
func (s *PostgresStore) ListCategories(ctx context.Context, ids []int64) ([]activity.Category, error) {
	categories := make([]activity.Category, 0, len(ids))
	for _, id := range ids {
		var category activity.Category
		err := s.q.QueryRowContext(ctx, `SELECT id, name, name_en FROM categories WHERE id=$1`, id).
			Scan(&category.ID, &category.Name.Dutch, &category.Name.English)
		if err != nil {
			return nil, errors.Wrapf(notFound(err), "category %d", id)
		}
		categories = append(categories, category)
	}
	return categories, nil
}

// Activities

const activityColumns = `
	id, version, name, name_en, begin_time, end_time, location, location_en,
	costs, costs_en, description, description_en, organ_id, company_id,
	creator_id, approver_id, is_my_future, require_geflitst, status,
	signup_lists, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (activity.Activity, error) {
	var (
		item        activity.Activity
		organID     sql.NullInt64
		companyID   sql.NullInt64
		approverID  sql.NullString
		signupLists []byte
	)
	err := row.Scan(
		&item.ID, &item.Version,
		&item.Name.Dutch, &item.Name.English,
		&item.BeginTime, &item.EndTime,
		&item.Location.Dutch, &item.Location.English,
		&item.Costs.Dutch, &item.Costs.English,
		&item.Description.Dutch, &item.Description.English,
		&organID, &companyID, &item.CreatorID, &approverID,
		&item.IsMyFuture, &item.RequireGEFLITST, &item.Status,
		&signupLists, &item.CreatedAt,
	)
	if err != nil {
		return activity.Activity{}, err
	}
	if organID.Valid {
		item.OrganID = &organID.Int64
	}
	if companyID.Valid {
		item.CompanyID = &companyID.Int64
	}
	if approverID.Valid {
		item.ApproverID = &approverID.String
	}
	if len(signupLists) > 0 {
		if err := json.Unmarshal(signupLists, &item.SignupLists); err != nil {
			return activity.Activity{}, errors.Wrap(err, "decode signup lists")
		}
	}
	return item, nil
}

func (s *PostgresStore) GetActivity(ctx context.Context, id int64) (activity.Activity, error) {
	item, err := scanActivity(s.q.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id=$1`, id))
	if err != nil {
		return activity.Activity{}, notFound(err)
	}
	if item.Categories, err = s.activityCategories(ctx, item.ID); err != nil {
		return activity.Activity{}, err
	}
	return item, nil
}

func (s *PostgresStore) activityCategories(ctx context.Context, activityID int64) ([]activity.Category, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.name, c.name_en
		FROM activity_categories ac
		JOIN categories c ON c.id = ac.category_id
		WHERE ac.activity_id = $1
		ORDER BY ac.position
	`, activityID)
	if err != nil {
		return nil, errors.Wrap(err, "list activity categories")
	}
	defer rows.Close()

	categories := []activity.Category{}
	for rows.Next() {
		var category activity.Category
		if err := rows.Scan(&category.ID, &category.Name.Dutch, &category.Name.English); err != nil {
			return nil, errors.Wrap(err, "scan activity category")
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (s *PostgresStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]activity.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities`
	args := []any{}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, int(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY begin_time, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list activities")
	}
	var items []activity.Activity
	for rows.Next() {
		item, err := scanActivity(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan activity")
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate activities")
	}

	for i := range items {
		if items[i].Categories, err = s.activityCategories(ctx, items[i].ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, item *activity.Activity) error {
	assignSignupIDs(item)
	signupLists, err := json.Marshal(nonNilLists(item.SignupLists))
	if err != nil {
		return errors.Wrap(err, "encode signup lists")
	}

	err = s.q.QueryRowContext(ctx, `
		INSERT INTO activities (
			name, name_en, begin_time, end_time, location, location_en,
			costs, costs_en, description, description_en, organ_id, company_id,
			creator_id, approver_id, is_my_future, require_geflitst, status, signup_lists
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, version, created_at
	`,
		item.Name.Dutch, item.Name.English, item.BeginTime, item.EndTime,
		item.Location.Dutch, item.Location.English, item.Costs.Dutch, item.Costs.English,
		item.Description.Dutch, item.Description.English, item.OrganID, item.CompanyID,
		item.CreatorID, item.ApproverID, item.IsMyFuture, item.RequireGEFLITST, int(item.Status), signupLists,
	).Scan(&item.ID, &item.Version, &item.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert activity")
	}

	for position, category := range item.Categories {
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO activity_categories (activity_id, category_id, position) VALUES ($1, $2, $3)
		`, item.ID, category.ID, position); err != nil {
			return errors.Wrap(err, "link activity category")
		}
	}
	return nil
}

// versionMiss tells a stale version apart from a missing row after a
// conditional write matched nothing.
func (s *PostgresStore) versionMiss(ctx context.Context, id int64) error {
	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM activities WHERE id=$1)`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check activity")
	}
	if exists {
		return ErrConcurrentModification
	}
	return ErrNotFound
}

func (s *PostgresStore) SetActivityStatus(ctx context.Context, id, expectedVersion int64, status activity.Status, approverID *string) (activity.Activity, error) {
	var version int64
	err := s.q.QueryRowContext(ctx, `
		UPDATE activities SET status=$1, approver_id=$2, version=version+1
		WHERE id=$3 AND version=$4
		RETURNING version
	`, int(status), approverID, id, expectedVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return activity.Activity{}, s.versionMiss(ctx, id)
	}
	if err != nil {
		return activity.Activity{}, errors.Wrap(err, "update activity status")
	}
	return s.GetActivity(ctx, id)
}

func (s *PostgresStore) DeleteActivity(ctx context.Context, id, expectedVersion int64) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM activities WHERE id=$1 AND version=$2`, id, expectedVersion)
	if err != nil {
		return errors.Wrap(err, "delete activity")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete activity")
	}
	if affected == 0 {
		return s.versionMiss(ctx, id)
	}
	return nil
}

// Proposals

const proposalColumns = `id, old_id, new_id, creator_id, created_at`

func scanProposal(row rowScanner) (Proposal, error) {
	var proposal Proposal
	err := row.Scan(&proposal.ID, &proposal.OldID, &proposal.NewID, &proposal.CreatorID, &proposal.CreatedAt)
	return proposal, err
}

func (s *PostgresStore) GetProposal(ctx context.Context, id int64) (Proposal, error) {
	proposal, err := scanProposal(s.q.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM activity_update_proposals WHERE id=$1`, id))
	return proposal, notFound(err)
}

func (s *PostgresStore) GetProposalByOldID(ctx context.Context, oldID int64) (Proposal, error) {
	proposal, err := scanProposal(s.q.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM activity_update_proposals WHERE old_id=$1`, oldID))
	return proposal, notFound(err)
}

func (s *PostgresStore) ListProposals(ctx context.Context) ([]Proposal, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+proposalColumns+` FROM activity_update_proposals ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list proposals")
	}
	defer rows.Close()

	var proposals []Proposal
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan proposal")
		}
		proposals = append(proposals, proposal)
	}
	return proposals, rows.Err()
}

func (s *PostgresStore) InsertProposal(ctx context.Context, proposal *Proposal) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO activity_update_proposals (old_id, new_id, creator_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, proposal.OldID, proposal.NewID, proposal.CreatorID).Scan(&proposal.ID, &proposal.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConcurrentModification
	}
	return errors.Wrap(err, "insert proposal")
}

func (s *PostgresStore) RebindProposal(ctx context.Context, id, expectedNewID, newID int64) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE activity_update_proposals SET new_id=$1 WHERE id=$2 AND new_id=$3
	`, newID, id, expectedNewID)
	if err != nil {
		return errors.Wrap(err, "rebind proposal")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rebind proposal")
	}
	if affected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (s *PostgresStore) DeleteProposal(ctx context.Context, id int64) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM activity_update_proposals WHERE id=$1`, id)
	if err != nil {
		return errors.Wrap(err, "delete proposal")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete proposal")
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// assignSignupIDs numbers signup lists, fields and options within one
// activity.
func assignSignupIDs(item *activity.Activity) {
	var next int64
	for i := range item.SignupLists {
		next++
		item.SignupLists[i].ID = next
		for j := range item.SignupLists[i].Fields {
			next++
			item.SignupLists[i].Fields[j].ID = next
			for k := range item.SignupLists[i].Fields[j].Options {
				next++
				item.SignupLists[i].Fields[j].Options[k].ID = next
			}
		}
	}
}

func nonNilLists(lists []activity.SignupList) []activity.SignupList {
	if lists == nil {
		return []activity.SignupList{}
	}
	return lists
}
