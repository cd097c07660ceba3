package store

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"association/api/internal/activity"
)

func sampleActivity(status activity.Status) *activity.Activity {
	return &activity.Activity{
		Name:      activity.LocalisedText{Dutch: "Borrel", English: "Drinks"},
		BeginTime: time.Date(2026, 11, 20, 20, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 11, 20, 23, 0, 0, 0, time.UTC),
		CreatorID: "usr_1",
		Status:    status,
		SignupLists: []activity.SignupList{{
			Name: activity.LocalisedText{Dutch: "Lijst"},
			Fields: []activity.SignupField{{
				Type:    activity.FieldChoice,
				Options: []activity.SignupOption{{Value: activity.LocalisedText{Dutch: "Ja"}}},
			}},
		}},
	}
}

func TestMemoryTxDiscardsFailedWork(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.InsertActivity(ctx, sampleActivity(activity.StatusToApprove)); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, boom, err)

	items, err := s.ListActivities(ctx, ActivityFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryActivityVersioning(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	item := sampleActivity(activity.StatusToApprove)
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error { return tx.InsertActivity(ctx, item) }))
	assert.Equal(t, int64(1), item.Version)
	assert.NotZero(t, item.SignupLists[0].Fields[0].Options[0].ID)

	approver := "usr_board"
	err := s.WithTx(ctx, func(tx Tx) error {
		updated, err := tx.SetActivityStatus(ctx, item.ID, 1, activity.StatusApproved, &approver)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2), updated.Version)
		return nil
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.SetActivityStatus(ctx, item.ID, 1, activity.StatusDisapproved, &approver)
		return err
	})
	assert.Equal(t, ErrConcurrentModification, err)

	err = s.WithTx(ctx, func(tx Tx) error { return tx.DeleteActivity(ctx, item.ID, 1) })
	assert.Equal(t, ErrConcurrentModification, err)

	stored, err := s.GetActivity(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.StatusApproved, stored.Status)
	assert.Equal(t, "usr_board", *stored.ApproverID)
}

func TestMemoryProposalPerActivityIsUnique(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := sampleActivity(activity.StatusApproved)
	first := sampleActivity(activity.StatusUpdate)
	second := sampleActivity(activity.StatusUpdate)
	var proposal Proposal

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		for _, item := range []*activity.Activity{old, first, second} {
			if err := tx.InsertActivity(ctx, item); err != nil {
				return err
			}
		}
		proposal = Proposal{OldID: old.ID, NewID: first.ID, CreatorID: "usr_1"}
		return tx.InsertProposal(ctx, &proposal)
	}))

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.InsertProposal(ctx, &Proposal{OldID: old.ID, NewID: second.ID, CreatorID: "usr_2"})
	})
	assert.Equal(t, ErrConcurrentModification, err)

	err = s.WithTx(ctx, func(tx Tx) error { return tx.DeleteActivity(ctx, first.ID, first.Version) })
	assert.Equal(t, ErrConcurrentModification, err, "a referenced candidate cannot be deleted")

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		if err := tx.RebindProposal(ctx, proposal.ID, first.ID, second.ID); err != nil {
			return err
		}
		return tx.DeleteActivity(ctx, first.ID, first.Version)
	}))

	stored, err := s.GetProposalByOldID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, stored.NewID)

	_, err = s.GetActivity(ctx, first.ID)
	assert.Equal(t, ErrNotFound, err)
}

func TestMemoryUsersAndSessions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, User{ID: "usr_1", Email: "ada@example.org", DisplayName: "Ada", Role: "member"}))
	assert.Equal(t, ErrConcurrentModification, s.CreateUser(ctx, User{ID: "usr_2", Email: "ADA@example.org"}))

	organ, err := s.CreateOrgan(ctx, Organ{Abbr: "ACD", Name: "Activity Committee"})
	require.NoError(t, err)
	require.NoError(t, s.AddOrganMember(ctx, organ.ID, "usr_1"))

	user, err := s.GetUserByEmail(ctx, "ada@EXAMPLE.org")
	require.NoError(t, err)
	assert.Equal(t, []int64{organ.ID}, user.Organs)

	require.NoError(t, s.SaveRefreshSession(ctx, "hash", "usr_1", time.Now().Add(time.Hour)))
	found, err := s.LookupRefreshSession(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", found.ID)

	require.NoError(t, s.RevokeRefreshSession(ctx, "hash"))
	_, err = s.LookupRefreshSession(ctx, "hash")
	assert.Equal(t, ErrNotFound, err)

	require.NoError(t, s.CreatePasswordReset(ctx, "usr_1", "reset", time.Now().Add(time.Hour)))
	userID, err := s.GetPasswordReset(ctx, "reset")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", userID)
	require.NoError(t, s.MarkPasswordResetUsed(ctx, "reset"))
	_, err = s.GetPasswordReset(ctx, "reset")
	assert.Equal(t, ErrNotFound, err)
}
