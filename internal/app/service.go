package app

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"association/api/internal/activity"
	"association/api/internal/archive"
	"association/api/internal/auth"
	"association/api/internal/authpw"
	"association/api/internal/config"
	"association/api/internal/email"
	"association/api/internal/logging"
	"association/api/internal/rbac"
	"association/api/internal/search"
	"association/api/internal/snapshot"
	"association/api/internal/store"
	"association/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	Organs       []int64
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Actor() rbac.Actor {
	return rbac.Actor{
		UserID: s.UserID,
		Role:   rbac.Normalize(s.Role),
		Organs: s.Organs,
	}
}

func (s Session) mailAddress() mail.Address {
	return mail.Address{Name: s.UserName, Address: s.Email}
}

func (s Session) author() string {
	if strings.TrimSpace(s.UserName) != "" {
		return s.UserName
	}
	return s.UserID
}

// SessionStore keeps refresh sessions and revoked access tokens. Redis and
// both data stores implement it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Store is the persistence the service runs on. Mutations of activities and
// proposals only happen inside WithTx.
type Store interface {
	authpw.UserStore
	SessionStore

	WithTx(ctx context.Context, fn func(store.Tx) error) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CountUsers(ctx context.Context) (int, error)
	CreateCategory(ctx context.Context, category activity.Category) (activity.Category, error)
	CountCategories(ctx context.Context) (int, error)

	GetActivity(ctx context.Context, id int64) (activity.Activity, error)
	ListActivities(ctx context.Context, filter store.ActivityFilter) ([]activity.Activity, error)
	GetProposal(ctx context.Context, id int64) (store.Proposal, error)
	ListProposals(ctx context.Context) ([]store.Proposal, error)
	Ping(ctx context.Context) error
}

// Notifier delivers activity and account mail. *email.Notifier implements
// it; delivery happens in the background.
type Notifier interface {
	ActivityCreated(data email.ActivityMail)
	ActivityUpdated(data email.ActivityMail)
	UpdateProposed(data email.ActivityMail)
	GEFLITSTRequested(data email.ActivityMail)
	PasswordReset(to mail.Address, token string)
}

type discardNotifier struct{}

func (discardNotifier) ActivityCreated(email.ActivityMail)   {}
func (discardNotifier) ActivityUpdated(email.ActivityMail)   {}
func (discardNotifier) UpdateProposed(email.ActivityMail)    {}
func (discardNotifier) GEFLITSTRequested(email.ActivityMail) {}
func (discardNotifier) PasswordReset(mail.Address, string)   {}

// Dependencies are the adapters the service talks to. Only Store is
// required.
type Dependencies struct {
	Store Store
	// Sessions defaults to Store.
	Sessions     SessionStore
	Notifier     Notifier
	Search       *search.Service
	SearchLoader search.Loader
	Archive      *archive.Service
	Logger       logrus.FieldLogger
	// EmailConfigured is false when mail cannot be delivered; password reset
	// tokens are then returned to the caller.
	EmailConfigured bool
}

type Service struct {
	cfg             config.Config
	store           Store
	sessions        SessionStore
	notifier        Notifier
	search          *search.Service
	searchLoader    search.Loader
	archive         *archive.Service
	auth            *authpw.Service
	normalizer      *snapshot.Normalizer
	logger          logrus.FieldLogger
	emailConfigured bool
}

func New(cfg config.Config, deps Dependencies) *Service {
	svc := &Service{
		cfg:             cfg,
		store:           deps.Store,
		sessions:        deps.Sessions,
		notifier:        deps.Notifier,
		search:          deps.Search,
		searchLoader:    deps.SearchLoader,
		archive:         deps.Archive,
		auth:            authpw.NewService(deps.Store),
		normalizer:      snapshot.NewNormalizer(activity.Rules),
		logger:          deps.Logger,
		emailConfigured: deps.EmailConfigured,
	}
	if svc.sessions == nil {
		svc.sessions = deps.Store
	}
	if svc.notifier == nil {
		svc.notifier = discardNotifier{}
	}
	if svc.logger == nil {
		svc.logger = logging.Discard()
	}
	return svc
}

var defaultCategories = []activity.LocalisedText{
	{Dutch: "Borrel", English: "Social drinks"},
	{Dutch: "Lezing", English: "Lecture"},
	{Dutch: "Excursie", English: "Excursion"},
	{Dutch: "Sport", English: "Sports"},
	{Dutch: "Carrière", English: "Career"},
}

// Bootstrap seeds an empty database with the configured administrator and
// the default categories, then rebuilds the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.BootstrapAdminEmail != "" && s.cfg.BootstrapAdminPassword != "" {
		users, err := s.store.CountUsers(ctx)
		if err != nil {
			return err
		}
		if users == 0 {
			admin, err := s.auth.CreateAccount(ctx, authpw.AccountRequest{
				Email:       s.cfg.BootstrapAdminEmail,
				Password:    s.cfg.BootstrapAdminPassword,
				DisplayName: "Administrator",
				Role:        string(rbac.RoleAdmin),
			})
			if err != nil {
				return errors.Wrap(err, "create bootstrap admin")
			}
			s.logger.WithField("user_id", admin.ID).Info("created bootstrap administrator")
		}
	}

	categories, err := s.store.CountCategories(ctx)
	if err != nil {
		return err
	}
	if categories == 0 {
		for _, name := range defaultCategories {
			if _, err := s.store.CreateCategory(ctx, activity.Category{Name: name}); err != nil {
				return errors.Wrapf(err, "seed category %q", name.English)
			}
		}
	}

	if s.search != nil && s.searchLoader != nil {
		s.search.Reindex(ctx, s.searchLoader)
	}
	return nil
}

func (s *Service) Login(ctx context.Context, emailAddress, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, emailAddress, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Name:   user.DisplayName,
		Role:   user.Role,
		Organs: user.Organs,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		Organs:       user.Organs,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken verifies an access token. Role and organ memberships are
// read from the store so changes apply before the token expires.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		Organs:    user.Organs,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// RequestPasswordReset mails a reset token. Unknown addresses succeed
// silently. The token is returned only when mail is not configured.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddress string) (string, error) {
	token, user, err := s.auth.RequestPasswordReset(ctx, emailAddress)
	if err != nil || token == "" {
		return "", err
	}
	s.notifier.PasswordReset(mail.Address{Name: user.DisplayName, Address: user.Email}, token)
	if s.emailConfigured {
		return "", nil
	}
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.auth.ResetPassword(ctx, token, newPassword)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
