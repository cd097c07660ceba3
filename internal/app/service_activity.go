package app

import (
	"context"
	"net/http"
	"sort"

	"github.com/pkg/errors"

	"association/api/internal/activity"
	"association/api/internal/archive"
	"association/api/internal/email"
	"association/api/internal/rbac"
	"association/api/internal/search"
	"association/api/internal/snapshot"
	"association/api/internal/store"
)

const historyLimit = 50

// liveStatuses excludes the candidates of pending update proposals.
var liveStatuses = []activity.Status{
	activity.StatusToApprove,
	activity.StatusApproved,
	activity.StatusDisapproved,
}

// references holds the related records a submission resolved to.
type references struct {
	organ      *store.Organ
	company    *store.Company
	categories []activity.Category
}

func (r references) organID() *int64 {
	if r.organ == nil {
		return nil
	}
	id := r.organ.ID
	return &id
}

func (r references) companyID() *int64 {
	if r.company == nil {
		return nil
	}
	id := r.company.ID
	return &id
}

// normalized returns the resolved identifiers in the shape the proposed
// snapshot carries them.
func (r references) normalized() map[string]any {
	refs := map[string]any{"organ": nil, "company": nil}
	if r.organ != nil {
		refs["organ"] = r.organ.ID
	}
	if r.company != nil {
		refs["company"] = r.company.ID
	}
	return refs
}

func (r references) mailOrgan() *email.OrganSender {
	if r.organ == nil {
		return nil
	}
	return &email.OrganSender{Abbr: r.organ.Abbr, Name: r.organ.Name, Email: r.organ.Email}
}

func parseInput(raw map[string]any) (activity.Input, error) {
	input, err := activity.Parse(raw)
	if err != nil {
		var invalid *activity.ValidationError
		if errors.As(err, &invalid) {
			return activity.Input{}, validationFailed("Invalid activity", invalid.Fields)
		}
		return activity.Input{}, err
	}
	return input, nil
}

// resolveReferences looks up the organ, company and categories of a
// submission. An id of 0 means none. The actor must be able to act for the
// organ.
func resolveReferences(ctx context.Context, tx store.Tx, actor rbac.Actor, in activity.Input) (references, error) {
	var refs references
	if in.Organ != 0 {
		organ, err := tx.GetOrgan(ctx, in.Organ)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return references{}, referenceFailed(http.StatusUnprocessableEntity, "organ", in.Organ)
			}
			return references{}, err
		}
		if !actor.CanEditOrgan(organ.ID) {
			return references{}, referenceFailed(http.StatusForbidden, "organ", in.Organ)
		}
		refs.organ = &organ
	}
	if in.Company != 0 {
		company, err := tx.GetCompany(ctx, in.Company)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return references{}, referenceFailed(http.StatusUnprocessableEntity, "company", in.Company)
			}
			return references{}, err
		}
		refs.company = &company
	}
	for _, id := range in.Categories {
		categories, err := tx.ListCategories(ctx, []int64{id})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return references{}, referenceFailed(http.StatusUnprocessableEntity, "categories", id)
			}
			return references{}, err
		}
		refs.categories = append(refs.categories, categories...)
	}
	return refs, nil
}

// CreateActivity stores a new activity awaiting approval.
func (s *Service) CreateActivity(ctx context.Context, session Session, raw map[string]any) (activity.Activity, error) {
	actor := session.Actor()
	if !rbac.Can(actor.Role, rbac.ActionCreate) {
		return activity.Activity{}, forbidden("You may not create activities")
	}
	input, err := parseInput(raw)
	if err != nil {
		return activity.Activity{}, err
	}

	var (
		created activity.Activity
		refs    references
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		refs, err = resolveReferences(ctx, tx, actor, input)
		if err != nil {
			return err
		}
		created = activity.New(input, activity.Owner{
			CreatorID:  actor.UserID,
			OrganID:    refs.organID(),
			CompanyID:  refs.companyID(),
			Categories: refs.categories,
			Status:     activity.StatusToApprove,
		})
		return tx.InsertActivity(ctx, &created)
	})
	if err != nil {
		return activity.Activity{}, err
	}

	s.archiveInit(created, session.author())
	s.indexActivity(created)
	data := email.ActivityMail{Activity: created, Organ: refs.mailOrgan(), Creator: session.mailAddress()}
	s.notifier.ActivityCreated(data)
	if created.RequireGEFLITST {
		s.notifier.GEFLITSTRequested(data)
	}
	return created, nil
}

// Approve, Disapprove and Reset move an activity between the moderation
// statuses. version 0 skips the caller's version check; the store still
// guards against concurrent writers.
func (s *Service) Approve(ctx context.Context, session Session, id, version int64) (activity.Activity, error) {
	approver := session.UserID
	return s.moderate(ctx, session, id, version, rbac.ActionApprove, activity.StatusApproved, &approver, "Approve activity")
}

func (s *Service) Disapprove(ctx context.Context, session Session, id, version int64) (activity.Activity, error) {
	approver := session.UserID
	return s.moderate(ctx, session, id, version, rbac.ActionDisapprove, activity.StatusDisapproved, &approver, "Disapprove activity")
}

func (s *Service) Reset(ctx context.Context, session Session, id, version int64) (activity.Activity, error) {
	return s.moderate(ctx, session, id, version, rbac.ActionReset, activity.StatusToApprove, nil, "Reset activity approval")
}

func (s *Service) moderate(ctx context.Context, session Session, id, version int64, action rbac.Action, status activity.Status, approverID *string, message string) (activity.Activity, error) {
	if !rbac.Can(session.Actor().Role, action) {
		return activity.Activity{}, forbidden("You may not " + string(action) + " activities")
	}
	var updated activity.Activity
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetActivity(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == activity.StatusUpdate {
			return validationFailed("Update candidates are decided through their proposal", nil)
		}
		if version == 0 {
			version = current.Version
		}
		updated, err = tx.SetActivityStatus(ctx, id, version, status, approverID)
		return err
	})
	if err != nil {
		return activity.Activity{}, err
	}
	s.archiveRecord(updated, session.author(), message)
	s.indexActivity(updated)
	return updated, nil
}

// visible hides unapproved activities from everyone but the board and the
// people who may edit them.
func visible(actor rbac.Actor, item activity.Activity) bool {
	if rbac.Can(actor.Role, rbac.ActionApprove) || item.Status == activity.StatusApproved {
		return true
	}
	return rbac.Allowed(actor, rbac.ActionUpdate, item)
}

func (s *Service) GetActivity(ctx context.Context, session Session, id int64) (activity.Activity, error) {
	item, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return activity.Activity{}, err
	}
	if !visible(session.Actor(), item) {
		return activity.Activity{}, store.ErrNotFound
	}
	return item, nil
}

func (s *Service) ListActivities(ctx context.Context, session Session) ([]activity.Activity, error) {
	statuses := []activity.Status{activity.StatusApproved}
	if rbac.Can(session.Actor().Role, rbac.ActionApprove) {
		statuses = liveStatuses
	}
	items, err := s.store.ListActivities(ctx, store.ActivityFilter{Statuses: statuses})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []activity.Activity{}
	}
	return items, nil
}

func (s *Service) ActivityHistory(ctx context.Context, session Session, id int64) ([]archive.Commit, error) {
	if _, err := s.GetActivity(ctx, session, id); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []archive.Commit{}, nil
	}
	return s.archive.History(id, historyLimit)
}

func (s *Service) SearchActivities(ctx context.Context, session Session, text string, limit, offset int) search.Response {
	statuses := []activity.Status{activity.StatusApproved}
	if rbac.Can(session.Actor().Role, rbac.ActionApprove) {
		statuses = liveStatuses
	}
	query := search.Query{Text: text, Statuses: statuses, Limit: limit, Offset: offset}
	if s.search == nil {
		return search.Response{Query: text, Results: []search.Result{}}
	}
	return s.search.Search(ctx, query)
}

// changedFields lists the top-level fields a pruned diff touches.
func changedFields(changes snapshot.Result) []string {
	seen := map[string]bool{}
	for key := range changes.Removed {
		seen[key] = true
	}
	for key := range changes.Added {
		seen[key] = true
	}
	fields := make([]string, 0, len(seen))
	for key := range seen {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return fields
}

func (s *Service) archiveEntry(item activity.Activity) archive.Entry {
	return archive.Entry{Status: item.Status.String(), Snapshot: s.normalizer.Current(item.Snapshot())}
}

func (s *Service) archiveInit(item activity.Activity, author string) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Init(item.ID, s.archiveEntry(item), author); err != nil {
		s.logger.WithError(err).WithField("activity_id", item.ID).Warn("archive init failed")
	}
}

func (s *Service) archiveRecord(item activity.Activity, author, message string) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.Record(item.ID, s.archiveEntry(item), author, message); err != nil {
		s.logger.WithError(err).WithField("activity_id", item.ID).Warn("archive record failed")
	}
}

func (s *Service) indexActivity(item activity.Activity) {
	if s.search == nil {
		return
	}
	s.search.Index(search.RecordFromActivity(item))
}

func (s *Service) unindexActivity(id int64) {
	if s.search == nil {
		return
	}
	s.search.Delete(id)
}

// Wait blocks until background search indexing has finished.
func (s *Service) Wait() {
	if s.search != nil {
		s.search.Wait()
	}
}
