package app

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"association/api/internal/activity"
	"association/api/internal/email"
	"association/api/internal/metrics"
	"association/api/internal/rbac"
	"association/api/internal/snapshot"
	"association/api/internal/store"
)

type Outcome string

const (
	OutcomeNoChange Outcome = "no_change"
	OutcomeApplied  Outcome = "applied"
	OutcomeHeld     Outcome = "held"
)

// ProposalView is a pending proposal with both sides resolved.
type ProposalView struct {
	ID        int64              `json:"id"`
	OldID     int64              `json:"oldId"`
	NewID     int64              `json:"newId"`
	CreatorID string             `json:"creatorId"`
	CreatedAt time.Time          `json:"createdAt"`
	Old       *activity.Activity `json:"old,omitempty"`
	New       *activity.Activity `json:"new,omitempty"`
	Changes   *snapshot.Result   `json:"changes,omitempty"`
}

// ProposalOutcome is the result of submitting an update. Activity is the
// unchanged activity for no_change, the new live activity for applied and
// the candidate for held.
type ProposalOutcome struct {
	Outcome  Outcome            `json:"outcome"`
	Activity *activity.Activity `json:"activity,omitempty"`
	Proposal *ProposalView      `json:"proposal,omitempty"`
	Changes  *snapshot.Result   `json:"changes,omitempty"`
}

func viewOf(proposal store.Proposal) *ProposalView {
	return &ProposalView{
		ID:        proposal.ID,
		OldID:     proposal.OldID,
		NewID:     proposal.NewID,
		CreatorID: proposal.CreatorID,
		CreatedAt: proposal.CreatedAt,
	}
}

// ProposeUpdate compares a submitted form with the live activity. An
// insignificant difference changes nothing. Otherwise a candidate replaces
// any pending one and is either applied at once or held for the board.
func (s *Service) ProposeUpdate(ctx context.Context, session Session, activityID int64, raw map[string]any) (ProposalOutcome, error) {
	actor := session.Actor()

	var (
		outcome  ProposalOutcome
		current  activity.Activity
		proposal store.Proposal
		refs     references
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		current, err = tx.GetActivity(ctx, activityID)
		if err != nil {
			return err
		}
		if !rbac.Allowed(actor, rbac.ActionUpdate, current) {
			return forbidden("You may not update this activity")
		}
		if current.Status == activity.StatusUpdate {
			return validationFailed("Update candidates cannot be updated", nil)
		}

		input, err := parseInput(raw)
		if err != nil {
			return err
		}
		refs, err = resolveReferences(ctx, tx, actor, input)
		if err != nil {
			return err
		}

		changes := snapshot.Diff(
			s.normalizer.Current(current.Snapshot()),
			s.normalizer.Proposed(raw, refs.normalized()),
		)
		if !changes.Significant() {
			unchanged := current
			outcome = ProposalOutcome{Outcome: OutcomeNoChange, Activity: &unchanged}
			return nil
		}
		pruned := changes.Pruned()
		outcome.Changes = &pruned

		candidate := activity.New(input, activity.Owner{
			CreatorID:  actor.UserID,
			OrganID:    refs.organID(),
			CompanyID:  refs.companyID(),
			Categories: refs.categories,
			Status:     activity.StatusUpdate,
		})
		if err := tx.InsertActivity(ctx, &candidate); err != nil {
			return err
		}

		proposal, err = tx.GetProposalByOldID(ctx, current.ID)
		switch {
		case err == nil:
			previous, err := tx.GetActivity(ctx, proposal.NewID)
			if err != nil {
				return err
			}
			if err := tx.RebindProposal(ctx, proposal.ID, previous.ID, candidate.ID); err != nil {
				return err
			}
			if err := tx.DeleteActivity(ctx, previous.ID, previous.Version); err != nil {
				return err
			}
			proposal.NewID = candidate.ID
		case errors.Is(err, store.ErrNotFound):
			proposal = store.Proposal{OldID: current.ID, NewID: candidate.ID, CreatorID: actor.UserID}
			if err := tx.InsertProposal(ctx, &proposal); err != nil {
				return err
			}
		default:
			return err
		}

		if canApplyImmediately(actor, current) {
			applied, err := applyProposal(ctx, tx, proposal, current, candidate)
			if err != nil {
				return err
			}
			outcome.Outcome = OutcomeApplied
			outcome.Activity = &applied
			return nil
		}
		outcome.Outcome = OutcomeHeld
		outcome.Activity = &candidate
		outcome.Proposal = viewOf(proposal)
		return nil
	})
	if err != nil {
		return ProposalOutcome{}, err
	}

	metrics.RecordProposal(string(outcome.Outcome))
	if outcome.Outcome == OutcomeNoChange {
		return outcome, nil
	}

	data := email.ActivityMail{
		Activity:      *outcome.Activity,
		Organ:         refs.mailOrgan(),
		Creator:       session.mailAddress(),
		ChangedFields: changedFields(*outcome.Changes),
	}
	if outcome.Outcome == OutcomeApplied {
		s.archiveApply(current.ID, proposal.ID, *outcome.Activity, session.author())
		s.unindexActivity(current.ID)
		s.indexActivity(*outcome.Activity)
		s.notifier.ActivityUpdated(data)
		return outcome, nil
	}

	if s.archive != nil {
		if _, err := s.archive.Propose(current.ID, proposal.ID, s.archiveEntry(*outcome.Activity), session.author(), "Propose update"); err != nil {
			s.logger.WithError(err).WithField("activity_id", current.ID).Warn("archive proposal failed")
		}
	}
	s.notifier.UpdateProposed(data)
	return outcome, nil
}

// canApplyImmediately holds for actors with update rights on every activity,
// and for entity-scoped editors while the activity still awaits its first
// approval.
func canApplyImmediately(actor rbac.Actor, current activity.Activity) bool {
	if rbac.Can(actor.Role, rbac.ActionUpdate) {
		return true
	}
	return current.Status == activity.StatusToApprove
}

// applyProposal replaces current with candidate. An approved activity stays
// approved; anything else needs approval again. The proposal goes first so
// no row references the activities being removed or promoted.
func applyProposal(ctx context.Context, tx store.Tx, proposal store.Proposal, current, candidate activity.Activity) (activity.Activity, error) {
	status := activity.StatusToApprove
	var approverID *string
	if current.Status == activity.StatusApproved {
		status = activity.StatusApproved
		approverID = current.ApproverID
	}
	if err := tx.DeleteProposal(ctx, proposal.ID); err != nil {
		return activity.Activity{}, err
	}
	if err := tx.DeleteActivity(ctx, current.ID, current.Version); err != nil {
		return activity.Activity{}, err
	}
	return tx.SetActivityStatus(ctx, candidate.ID, candidate.Version, status, approverID)
}

// ApplyUpdateProposal applies a held proposal on behalf of the board.
func (s *Service) ApplyUpdateProposal(ctx context.Context, session Session, proposalID int64) (activity.Activity, error) {
	if !rbac.Can(session.Actor().Role, rbac.ActionApprove) {
		return activity.Activity{}, forbidden("You may not apply update proposals")
	}
	var (
		proposal store.Proposal
		applied  activity.Activity
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		proposal, err = tx.GetProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		current, err := tx.GetActivity(ctx, proposal.OldID)
		if err != nil {
			return err
		}
		candidate, err := tx.GetActivity(ctx, proposal.NewID)
		if err != nil {
			return err
		}
		applied, err = applyProposal(ctx, tx, proposal, current, candidate)
		return err
	})
	if err != nil {
		return activity.Activity{}, err
	}

	metrics.RecordDecision("applied")
	s.archiveApply(proposal.OldID, proposal.ID, applied, session.author())
	s.unindexActivity(proposal.OldID)
	s.indexActivity(applied)
	return applied, nil
}

// RevokeUpdateProposal discards a pending proposal and its candidate. Only
// the board may revoke. The live activity is not touched.
func (s *Service) RevokeUpdateProposal(ctx context.Context, session Session, proposalID int64) error {
	actor := session.Actor()
	var proposal store.Proposal
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		proposal, err = tx.GetProposal(ctx, proposalID)
		if err != nil {
			return err
		}
		if !rbac.Can(actor.Role, rbac.ActionApprove) {
			return forbidden("You may not revoke this update proposal")
		}
		candidate, err := tx.GetActivity(ctx, proposal.NewID)
		if err != nil {
			return err
		}
		if err := tx.DeleteProposal(ctx, proposal.ID); err != nil {
			return err
		}
		return tx.DeleteActivity(ctx, candidate.ID, candidate.Version)
	})
	if err != nil {
		return err
	}

	metrics.RecordDecision("revoked")
	if s.archive != nil {
		if err := s.archive.Revoke(proposal.OldID, proposal.ID); err != nil {
			s.logger.WithError(err).WithField("proposal_id", proposal.ID).Warn("archive revoke failed")
		}
	}
	return nil
}

// ListUpdateProposals returns the board's queue of held proposals, oldest
// first, with the changes each one would make.
func (s *Service) ListUpdateProposals(ctx context.Context, session Session) ([]ProposalView, error) {
	if !rbac.Can(session.Actor().Role, rbac.ActionApprove) {
		return nil, forbidden("You may not review update proposals")
	}
	views := []ProposalView{}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		proposals, err := tx.ListProposals(ctx)
		if err != nil {
			return err
		}
		for _, proposal := range proposals {
			current, err := tx.GetActivity(ctx, proposal.OldID)
			if err != nil {
				return err
			}
			candidate, err := tx.GetActivity(ctx, proposal.NewID)
			if err != nil {
				return err
			}
			changes := snapshot.Diff(
				s.normalizer.Current(current.Snapshot()),
				s.normalizer.Current(candidate.Snapshot()),
			).Pruned()

			view := viewOf(proposal)
			view.Old = &current
			view.New = &candidate
			view.Changes = &changes
			views = append(views, *view)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

func (s *Service) archiveApply(oldID, proposalID int64, applied activity.Activity, author string) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.Apply(oldID, applied.ID, proposalID, s.archiveEntry(applied), author); err != nil {
		s.logger.WithError(err).WithField("activity_id", applied.ID).Warn("archive apply failed")
	}
}
