// Package archive keeps the revision history of every activity in a git
// repository of its own. Pending update proposals live on a branch until
// they are applied or revoked.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"association/api/internal/snapshot"
)

const (
	mainBranch   = "main"
	snapshotFile = "snapshot.json"
)

// Entry is what gets committed for one revision of an activity.
type Entry struct {
	Status   string         `json:"status"`
	Snapshot map[string]any `json:"snapshot"`
}

// Commit describes one revision. Changed lists the top-level snapshot keys
// that differ from the parent revision.
type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Changed   []string  `json:"changed"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// Init creates the repository of a new activity with its first revision.
// Existing repositories are left alone.
func (s *Service) Init(activityID int64, entry Entry, author string) error {
	lock := s.activityLock(activityID)
	lock.Lock()
	defer lock.Unlock()

	_, _, err := s.init(activityID, entry, author, "Create activity")
	return err
}

// init opens the repository of the activity, creating it with entry as the
// first revision when missing. created reports which of the two happened.
func (s *Service) init(activityID int64, entry Entry, author, message string) (repo *git.Repository, created bool, err error) {
	path := s.repoPath(activityID)
	if _, err := os.Stat(path); err == nil {
		repo, err = git.PlainOpen(path)
		if err != nil {
			return nil, false, errors.Wrap(err, "open repo")
		}
		return repo, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, errors.Wrap(err, "stat repo path")
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, errors.Wrap(err, "create repo dir")
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, errors.Wrap(err, "init repo")
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, false, errors.Wrap(err, "set HEAD to main")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, false, errors.Wrap(err, "open worktree")
	}
	if _, err := writeEntry(worktree, entry, author, message, false); err != nil {
		return nil, false, err
	}
	return repo, true, nil
}

func headCommit(repo *git.Repository) (plumbing.Hash, error) {
	head, err := repo.Head()
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "resolve head")
	}
	return head.Hash(), nil
}

// Record commits a new revision of the activity on main, for example a
// status change. An unchanged entry still produces a commit.
func (s *Service) Record(activityID int64, entry Entry, author, message string) (Commit, error) {
	lock := s.activityLock(activityID)
	lock.Lock()
	defer lock.Unlock()

	repo, created, err := s.init(activityID, entry, author, message)
	if err != nil {
		return Commit{}, err
	}
	var hash plumbing.Hash
	if created {
		hash, err = headCommit(repo)
	} else {
		hash, err = commitOn(repo, mainBranch, entry, author, message, true)
	}
	if err != nil {
		return Commit{}, err
	}
	return s.commitInfo(repo, hash)
}

// Propose commits a candidate revision on the branch of the proposal. A
// superseding candidate lands on the same branch.
func (s *Service) Propose(activityID, proposalID int64, entry Entry, author, message string) (Commit, error) {
	lock := s.activityLock(activityID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(activityID))
	if err != nil {
		return Commit{}, errors.Wrap(err, "open repo")
	}
	hash, err := commitOn(repo, proposalBranch(proposalID), entry, author, message, true)
	if err != nil {
		return Commit{}, err
	}
	return s.commitInfo(repo, hash)
}

// Apply commits the applied candidate onto main, drops the proposal branch
// and moves the history from the replaced activity to its successor. Without a history
// for the old activity a fresh repository is started from entry.
func (s *Service) Apply(oldID, newID, proposalID int64, entry Entry, author string) (Commit, error) {
	first, second := s.activityLock(oldID), s.activityLock(newID)
	if oldID > newID {
		first, second = second, first
	}
	first.Lock()
	defer first.Unlock()
	second.Lock()
	defer second.Unlock()

	message := fmt.Sprintf("Apply update proposal %d\n\nreplaces: %d", proposalID, oldID)
	repo, err := git.PlainOpen(s.repoPath(oldID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, _, err = s.init(newID, entry, author, message)
		if err != nil {
			return Commit{}, err
		}
		hash, err := headCommit(repo)
		if err != nil {
			return Commit{}, err
		}
		return s.commitInfo(repo, hash)
	}
	if err != nil {
		return Commit{}, errors.Wrap(err, "open repo")
	}

	hash, err := commitOn(repo, mainBranch, entry, author, message, true)
	if err != nil {
		return Commit{}, err
	}
	if err := removeBranch(repo, proposalBranch(proposalID)); err != nil {
		return Commit{}, err
	}
	info, err := s.commitInfo(repo, hash)
	if err != nil {
		return Commit{}, err
	}
	if err := os.Rename(s.repoPath(oldID), s.repoPath(newID)); err != nil {
		return Commit{}, errors.Wrap(err, "move history to successor")
	}
	return info, nil
}

// Revoke drops the branch of a proposal. Main is untouched.
func (s *Service) Revoke(activityID, proposalID int64) error {
	lock := s.activityLock(activityID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(activityID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "open repo")
	}
	if err := checkoutBranch(repo, mainBranch); err != nil {
		return err
	}
	return removeBranch(repo, proposalBranch(proposalID))
}

// History lists the revisions on main, newest first. An activity without
// a repository has an empty history.
func (s *Service) History(activityID int64, limit int) ([]Commit, error) {
	lock := s.activityLock(activityID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(activityID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "open repo")
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, errors.Wrap(err, "resolve main")
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, errors.Wrap(err, "read log")
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		info, err := toCommit(commitObj)
		if err != nil {
			return err
		}
		items = append(items, info)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "iterate log")
	}
	return items, nil
}

// Entry reads the revision with the given hash or prefix.
func (s *Service) Entry(activityID int64, hash string) (Entry, error) {
	lock := s.activityLock(activityID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(activityID))
	if err != nil {
		return Entry{}, errors.Wrap(err, "open repo")
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return Entry{}, errors.Wrapf(err, "resolve hash %s", hash)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "read commit %s", hash)
	}
	return readEntry(commitObj)
}

func (s *Service) repoPath(activityID int64) string {
	return filepath.Join(s.baseDir, strconv.FormatInt(activityID, 10))
}

func (s *Service) activityLock(activityID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[activityID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[activityID] = lock
	return lock
}

func (s *Service) commitInfo(repo *git.Repository, hash plumbing.Hash) (Commit, error) {
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, errors.Wrap(err, "read commit object")
	}
	return toCommit(commitObj)
}

func proposalBranch(proposalID int64) string {
	return "proposal-" + strconv.FormatInt(proposalID, 10)
}

func commitOn(repo *git.Repository, branchName string, entry Entry, author, message string, allowEmpty bool) (plumbing.Hash, error) {
	if err := checkoutBranch(repo, branchName); err != nil {
		return plumbing.ZeroHash, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "open worktree")
	}
	return writeEntry(worktree, entry, author, message, allowEmpty)
}

func writeEntry(worktree *git.Worktree, entry Entry, author, message string, allowEmpty bool) (plumbing.Hash, error) {
	payload, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "marshal entry")
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "write snapshot")
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "git add snapshot")
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@activities.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "commit snapshot")
	}
	return hash, nil
}

func checkoutBranch(repo *git.Repository, branchName string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "open worktree")
	}

	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return errors.Wrapf(err, "create branch %s", branchName)
			}
			return nil
		}
		return errors.Wrapf(err, "resolve branch %s", branchName)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return errors.Wrapf(err, "checkout branch %s", branchName)
	}
	return nil
}

func removeBranch(repo *git.Repository, branchName string) error {
	err := repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(branchName))
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return errors.Wrapf(err, "remove branch %s", branchName)
	}
	return nil
}

func readEntry(commitObj *object.Commit) (Entry, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return Entry{}, errors.Wrap(err, "load snapshot from commit")
	}
	contents, err := file.Contents()
	if err != nil {
		return Entry{}, errors.Wrap(err, "read snapshot")
	}
	var entry Entry
	if err := json.Unmarshal([]byte(contents), &entry); err != nil {
		return Entry{}, errors.Wrap(err, "decode snapshot")
	}
	return entry, nil
}

func toCommit(commitObj *object.Commit) (Commit, error) {
	info := Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
		Changed:   []string{},
	}
	current, err := readEntry(commitObj)
	if err != nil {
		return Commit{}, err
	}
	if commitObj.NumParents() == 0 {
		return info, nil
	}
	parentObj, err := commitObj.Parent(0)
	if err != nil {
		return Commit{}, errors.Wrap(err, "load parent commit")
	}
	previous, err := readEntry(parentObj)
	if err != nil {
		return Commit{}, err
	}
	info.Changed = ChangedFields(previous, current)
	return info, nil
}

// ChangedFields names the top-level keys that differ between two entries,
// with status reported as its own field.
func ChangedFields(from, to Entry) []string {
	changed := make([]string, 0)
	if from.Status != to.Status {
		changed = append(changed, "status")
	}
	result := snapshot.Diff(from.Snapshot, to.Snapshot).Pruned()
	seen := map[string]bool{}
	for _, side := range []map[string]any{result.Removed, result.Added} {
		for key := range side {
			if !seen[key] {
				seen[key] = true
				changed = append(changed, key)
			}
		}
	}
	sort.Strings(changed)
	return changed
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
