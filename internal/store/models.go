package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"association/api/internal/activity"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	Organs       []int64
	CreatedAt    time.Time
}

// Organ is a committee or working group activities can be organised by.
type Organ struct {
	ID    int64
	Abbr  string
	Name  string
	Email string
}

type Company struct {
	ID   int64
	Name string
}

// Proposal links a live activity (OldID) to the candidate (NewID) that
// would replace it.
type Proposal struct {
	ID        int64
	OldID     int64
	NewID     int64
	CreatorID string
	CreatedAt time.Time
}

type ActivityFilter struct {
	Statuses []activity.Status
	Limit    int
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	GetOrgan(ctx context.Context, id int64) (Organ, error)
	GetCompany(ctx context.Context, id int64) (Company, error)
	ListCategories(ctx context.Context, ids []int64) ([]activity.Category, error)

	GetActivity(ctx context.Context, id int64) (activity.Activity, error)
	ListActivities(ctx context.Context, filter ActivityFilter) ([]activity.Activity, error)
	// InsertActivity stores a new activity and sets its ID, Version and
	// CreatedAt.
	InsertActivity(ctx context.Context, item *activity.Activity) error
	// SetActivityStatus fails with ErrConcurrentModification when the stored
	// version differs from expectedVersion.
	SetActivityStatus(ctx context.Context, id, expectedVersion int64, status activity.Status, approverID *string) (activity.Activity, error)
	DeleteActivity(ctx context.Context, id, expectedVersion int64) error

	GetProposal(ctx context.Context, id int64) (Proposal, error)
	GetProposalByOldID(ctx context.Context, oldID int64) (Proposal, error)
	ListProposals(ctx context.Context) ([]Proposal, error)
	InsertProposal(ctx context.Context, proposal *Proposal) error
	// RebindProposal points the proposal at a new candidate, provided it
	// still points at expectedNewID.
	RebindProposal(ctx context.Context, id, expectedNewID, newID int64) error
	DeleteProposal(ctx context.Context, id int64) error
}
