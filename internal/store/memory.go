package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"association/api/internal/activity"
)

// MemoryStore keeps everything in process. It backs development runs
// without a database and the service tests.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	users          map[string]User
	organMembers   map[int64]map[string]bool
	organs         map[int64]Organ
	companies      map[int64]Company
	categories     map[int64]activity.Category
	activities     map[int64]activity.Activity
	proposals      map[int64]Proposal
	refresh        map[string]refreshSession
	revokedTokens  map[string]time.Time
	passwordResets map[string]passwordReset
	sequence       int64
}

type refreshSession struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

type passwordReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		users:          map[string]User{},
		organMembers:   map[int64]map[string]bool{},
		organs:         map[int64]Organ{},
		companies:      map[int64]Company{},
		categories:     map[int64]activity.Category{},
		activities:     map[int64]activity.Activity{},
		proposals:      map[int64]Proposal{},
		refresh:        map[string]refreshSession{},
		revokedTokens:  map[string]time.Time{},
		passwordResets: map[string]passwordReset{},
	}}
}

// WithTx runs fn against a copy of the state and keeps the copy only when
// fn succeeds. Transactions are serialized.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.copy()
	if err := fn(&memoryTx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *MemoryStore) tx() *memoryTx {
	return &memoryTx{state: s.state}
}

func (st *memoryState) copy() *memoryState {
	out := &memoryState{
		users:          make(map[string]User, len(st.users)),
		organMembers:   make(map[int64]map[string]bool, len(st.organMembers)),
		organs:         make(map[int64]Organ, len(st.organs)),
		companies:      make(map[int64]Company, len(st.companies)),
		categories:     make(map[int64]activity.Category, len(st.categories)),
		activities:     make(map[int64]activity.Activity, len(st.activities)),
		proposals:      make(map[int64]Proposal, len(st.proposals)),
		refresh:        make(map[string]refreshSession, len(st.refresh)),
		revokedTokens:  make(map[string]time.Time, len(st.revokedTokens)),
		passwordResets: make(map[string]passwordReset, len(st.passwordResets)),
		sequence:       st.sequence,
	}
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, members := range st.organMembers {
		copied := make(map[string]bool, len(members))
		for user := range members {
			copied[user] = true
		}
		out.organMembers[k] = copied
	}
	for k, v := range st.organs {
		out.organs[k] = v
	}
	for k, v := range st.companies {
		out.companies[k] = v
	}
	for k, v := range st.categories {
		out.categories[k] = v
	}
	for k, v := range st.activities {
		out.activities[k] = v
	}
	for k, v := range st.proposals {
		out.proposals[k] = v
	}
	for k, v := range st.refresh {
		out.refresh[k] = v
	}
	for k, v := range st.revokedTokens {
		out.revokedTokens[k] = v
	}
	for k, v := range st.passwordResets {
		out.passwordResets[k] = v
	}
	return out
}

func (st *memoryState) nextID() int64 {
	st.sequence++
	return st.sequence
}

// Users and sessions

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.user(userID)
}

func (st *memoryState) user(userID string) (User, error) {
	user, ok := st.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	user.Organs = nil
	for organID, members := range st.organMembers {
		if members[userID] {
			user.Organs = append(user.Organs, organID)
		}
	}
	sort.Slice(user.Organs, func(i, j int) bool { return user.Organs[i] < user.Organs[j] })
	return user, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, user := range s.state.users {
		if strings.EqualFold(user.Email, email) {
			return s.state.user(id)
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.users {
		if existing.ID == user.ID || strings.EqualFold(existing.Email, user.Email) {
			return ErrConcurrentModification
		}
	}
	user.Organs = nil
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.state.users[user.ID] = user
	return nil
}

func (s *MemoryStore) CountUsers(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.users), nil
}

func (s *MemoryStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.state.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	s.state.users[userID] = user
	return nil
}

func (s *MemoryStore) AddOrganMember(_ context.Context, organID int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.organs[organID]; !ok {
		return ErrNotFound
	}
	if s.state.organMembers[organID] == nil {
		s.state.organMembers[organID] = map[string]bool{}
	}
	s.state.organMembers[organID][userID] = true
	return nil
}

func (s *MemoryStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.passwordResets[token] = passwordReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset, ok := s.state.passwordResets[token]
	if !ok || reset.used || time.Now().After(reset.expiresAt) {
		return "", ErrNotFound
	}
	return reset.userID, nil
}

func (s *MemoryStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reset, ok := s.state.passwordResets[token]; ok {
		reset.used = true
		s.state.passwordResets[token] = reset
	}
	return nil
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.refresh[tokenHash] = refreshSession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.state.refresh[tokenHash]; ok {
		session.revoked = true
		s.state.refresh[tokenHash] = session
	}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.state.refresh[tokenHash]
	if !ok || session.revoked || time.Now().After(session.expiresAt) {
		return User{}, ErrNotFound
	}
	return s.state.user(session.userID)
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.revokedTokens[jti] = exp
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, revoked := s.state.revokedTokens[jti]
	return revoked, nil
}

// Reference data

func (s *MemoryStore) CreateOrgan(_ context.Context, organ Organ) (Organ, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	organ.ID = s.state.nextID()
	s.state.organs[organ.ID] = organ
	return organ, nil
}

func (s *MemoryStore) CreateCompany(_ context.Context, company Company) (Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	company.ID = s.state.nextID()
	s.state.companies[company.ID] = company
	return company, nil
}

func (s *MemoryStore) CreateCategory(_ context.Context, category activity.Category) (activity.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	category.ID = s.state.nextID()
	s.state.categories[category.ID] = category
	return category, nil
}

func (s *MemoryStore) CountCategories(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.categories), nil
}

func (s *MemoryStore) GetOrgan(ctx context.Context, id int64) (Organ, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetOrgan(ctx, id)
}

func (s *MemoryStore) GetCompany(ctx context.Context, id int64) (Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetCompany(ctx, id)
}

func (s *MemoryStore) ListCategories(ctx context.Context, ids []int64) ([]activity.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListCategories(ctx, ids)
}

func (s *MemoryStore) GetActivity(ctx context.Context, id int64) (activity.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetActivity(ctx, id)
}

func (s *MemoryStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]activity.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListActivities(ctx, filter)
}

func (s *MemoryStore) GetProposal(ctx context.Context, id int64) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetProposal(ctx, id)
}

func (s *MemoryStore) GetProposalByOldID(ctx context.Context, oldID int64) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetProposalByOldID(ctx, oldID)
}

func (s *MemoryStore) ListProposals(ctx context.Context) ([]Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListProposals(ctx)
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// memoryTx implements Tx over one state snapshot. The caller holds the lock.
type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) GetOrgan(_ context.Context, id int64) (Organ, error) {
	organ, ok := t.state.organs[id]
	if !ok {
		return Organ{}, ErrNotFound
	}
	return organ, nil
}

func (t *memoryTx) GetCompany(_ context.Context, id int64) (Company, error) {
	company, ok := t.state.companies[id]
	if !ok {
		return Company{}, ErrNotFound
	}
	return company, nil
}

func (t *memoryTx) ListCategories(_ context.Context, ids []int64) ([]activity.Category, error) {
	categories := make([]activity.Category, 0, len(ids))
	for _, id := range ids {
		category, ok := t.state.categories[id]
		if !ok {
			return nil, ErrNotFound
		}
		categories = append(categories, category)
	}
	return categories, nil
}

func (t *memoryTx) GetActivity(_ context.Context, id int64) (activity.Activity, error) {
	item, ok := t.state.activities[id]
	if !ok {
		return activity.Activity{}, ErrNotFound
	}
	return cloneActivity(item), nil
}

func (t *memoryTx) ListActivities(_ context.Context, filter ActivityFilter) ([]activity.Activity, error) {
	var items []activity.Activity
	for _, item := range t.state.activities {
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, item.Status) {
			continue
		}
		items = append(items, cloneActivity(item))
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].BeginTime.Equal(items[j].BeginTime) {
			return items[i].BeginTime.Before(items[j].BeginTime)
		}
		return items[i].ID < items[j].ID
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func hasStatus(statuses []activity.Status, status activity.Status) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func (t *memoryTx) InsertActivity(_ context.Context, item *activity.Activity) error {
	assignSignupIDs(item)
	item.ID = t.state.nextID()
	item.Version = 1
	item.CreatedAt = time.Now().UTC()
	t.state.activities[item.ID] = cloneActivity(*item)
	return nil
}

func (t *memoryTx) SetActivityStatus(_ context.Context, id, expectedVersion int64, status activity.Status, approverID *string) (activity.Activity, error) {
	item, ok := t.state.activities[id]
	if !ok {
		return activity.Activity{}, ErrNotFound
	}
	if item.Version != expectedVersion {
		return activity.Activity{}, ErrConcurrentModification
	}
	item.Status = status
	if approverID != nil {
		approver := *approverID
		item.ApproverID = &approver
	} else {
		item.ApproverID = nil
	}
	item.Version++
	t.state.activities[id] = item
	return cloneActivity(item), nil
}

func (t *memoryTx) DeleteActivity(_ context.Context, id, expectedVersion int64) error {
	item, ok := t.state.activities[id]
	if !ok {
		return ErrNotFound
	}
	if item.Version != expectedVersion {
		return ErrConcurrentModification
	}
	for _, proposal := range t.state.proposals {
		if proposal.OldID == id || proposal.NewID == id {
			return ErrConcurrentModification
		}
	}
	delete(t.state.activities, id)
	return nil
}

func (t *memoryTx) GetProposal(_ context.Context, id int64) (Proposal, error) {
	proposal, ok := t.state.proposals[id]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	return proposal, nil
}

func (t *memoryTx) GetProposalByOldID(_ context.Context, oldID int64) (Proposal, error) {
	for _, proposal := range t.state.proposals {
		if proposal.OldID == oldID {
			return proposal, nil
		}
	}
	return Proposal{}, ErrNotFound
}

func (t *memoryTx) ListProposals(context.Context) ([]Proposal, error) {
	proposals := make([]Proposal, 0, len(t.state.proposals))
	for _, proposal := range t.state.proposals {
		proposals = append(proposals, proposal)
	}
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].ID < proposals[j].ID })
	return proposals, nil
}

func (t *memoryTx) InsertProposal(_ context.Context, proposal *Proposal) error {
	for _, existing := range t.state.proposals {
		if existing.OldID == proposal.OldID || existing.NewID == proposal.NewID {
			return ErrConcurrentModification
		}
	}
	proposal.ID = t.state.nextID()
	proposal.CreatedAt = time.Now().UTC()
	t.state.proposals[proposal.ID] = *proposal
	return nil
}

func (t *memoryTx) RebindProposal(_ context.Context, id, expectedNewID, newID int64) error {
	proposal, ok := t.state.proposals[id]
	if !ok || proposal.NewID != expectedNewID {
		return ErrConcurrentModification
	}
	proposal.NewID = newID
	t.state.proposals[id] = proposal
	return nil
}

func (t *memoryTx) DeleteProposal(_ context.Context, id int64) error {
	if _, ok := t.state.proposals[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.proposals, id)
	return nil
}

func cloneActivity(item activity.Activity) activity.Activity {
	item.Categories = append([]activity.Category(nil), item.Categories...)
	lists := make([]activity.SignupList, len(item.SignupLists))
	for i, list := range item.SignupLists {
		fields := make([]activity.SignupField, len(list.Fields))
		for j, field := range list.Fields {
			field.Options = append([]activity.SignupOption(nil), field.Options...)
			fields[j] = field
		}
		list.Fields = fields
		lists[i] = list
	}
	if item.SignupLists != nil {
		item.SignupLists = lists
	}
	return item
}
