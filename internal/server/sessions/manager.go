// Package sessions issues, resolves, rotates and revokes access/refresh
// token pairs. Every pair is persisted as a session record.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/auth"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/orgware/owconnect/internal/server/properties"
)

const Collection = "sessions"

// RepositoryConfig returns the entity configuration of the sessions collection.
func RepositoryConfig(systemAccount string) entity.Config {
	return entity.Config{
		Collection:    Collection,
		Revisions:     true,
		SystemAccount: systemAccount,
	}
}

// PropertyReader is the part of the property store the manager reads.
type PropertyReader interface {
	SystemValue(ctx context.Context, key string) (string, error)
	Minutes(ctx context.Context, key string) (time.Duration, error)
}

// PrincipalResolver loads the principal behind an employee reference.
type PrincipalResolver interface {
	Principal(ctx context.Context, employee string) (*models.Principal, error)
}

// State is the lifecycle position of a presented access token.
type State int

const (
	Anonymous State = iota
	Authenticated
	AccessExpired
	FullyExpired
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case AccessExpired:
		return "access_expired"
	case FullyExpired:
		return "fully_expired"
	default:
		return "anonymous"
	}
}

// Issued is the result of a successful login.
type Issued struct {
	AccessToken    string
	RefreshToken   string
	SessionPeriod  int // refresh token lifetime in minutes
	ExpirationDate time.Time
}

// Cookie returns the HttpOnly cookie carrying the refresh token.
func (i *Issued) Cookie() *http.Cookie {
	return refreshCookie(i.RefreshToken, i.ExpirationDate)
}

// Refreshed is the result of a token rotation.
type Refreshed struct {
	AccessToken    string
	RefreshToken   string
	SessionPeriod  int
	ExpirationDate time.Time
	Cookie         *http.Cookie
}

type Manager struct {
	repo       *entity.Repository
	props      PropertyReader
	principals PrincipalResolver
	logger     logging.Logger
	now        func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(repo *entity.Repository, props PropertyReader, principals PrincipalResolver, l logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:       repo,
		props:      props,
		principals: principals,
		logger:     l.With("module", "sessions"),
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type settings struct {
	accessPeriod  time.Duration
	refreshPeriod time.Duration
	accessSecret  []byte
	refreshSecret []byte
}

func (m *Manager) settings(ctx context.Context) (*settings, error) {
	var (
		s   settings
		err error
	)
	if s.accessPeriod, err = m.props.Minutes(ctx, properties.KeyAccessTokenPeriod); err != nil {
		return nil, fmt.Errorf("session settings: %w", err)
	}
	if s.refreshPeriod, err = m.props.Minutes(ctx, properties.KeyRefreshTokenPeriod); err != nil {
		return nil, fmt.Errorf("session settings: %w", err)
	}
	access, err := m.props.SystemValue(ctx, properties.KeyAccessTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("session settings: %w", err)
	}
	refresh, err := m.props.SystemValue(ctx, properties.KeyRefreshTokenSecret)
	if err != nil {
		return nil, fmt.Errorf("session settings: %w", err)
	}
	s.accessSecret, s.refreshSecret = []byte(access), []byte(refresh)
	return &s, nil
}

func (m *Manager) sign(employee string, s *settings, now time.Time) (access, refresh string, err error) {
	if access, err = auth.GenerateToken(employee, s.accessSecret, s.accessPeriod, now); err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}
	if refresh, err = auth.GenerateToken(employee, s.refreshSecret, s.refreshPeriod, now); err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}
	return access, refresh, nil
}

// Issue signs a fresh token pair for employee and stores a new session.
func (m *Manager) Issue(ctx context.Context, employee, username string) (*Issued, error) {
	s, err := m.settings(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	access, refresh, err := m.sign(employee, s, now)
	if err != nil {
		return nil, err
	}

	ctx = models.WithPrincipal(ctx, &models.Principal{Employee: employee, Username: username})
	if _, err := m.repo.Create(ctx, "", models.Document{
		"employee":     employee,
		"username":     username,
		"accessToken":  access,
		"refreshToken": refresh,
	}); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	m.logger.Info(ctx, "session issued", "employee", employee)
	return &Issued{
		AccessToken:    access,
		RefreshToken:   refresh,
		SessionPeriod:  int(s.refreshPeriod / time.Minute),
		ExpirationDate: now.Add(s.refreshPeriod).UTC(),
	}, nil
}

func (m *Manager) sessionBy(ctx context.Context, field, token string) (*models.Record, error) {
	if token == "" {
		return nil, common.ErrorNotFound
	}
	return m.repo.FindOne(ctx, models.Document{field: token})
}

// Resolve maps an access token to its principal. An expired access token
// whose session still holds a valid refresh token asks the client to refresh.
func (m *Manager) Resolve(ctx context.Context, token string) (*models.Principal, error) {
	sess, err := m.sessionBy(ctx, "accessToken", token)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrInvalidAccessToken
	}
	if err != nil {
		return nil, err
	}

	s, err := m.settings(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if _, err := auth.ParseToken(token, s.accessSecret, now); err != nil {
		if _, err := auth.ParseToken(sess.Data.String("refreshToken"), s.refreshSecret, now); err == nil {
			return nil, common.ErrRefreshRequired
		}
		return nil, common.ErrAllTokensExpired
	}

	return m.principals.Principal(ctx, sess.Data.String("employee"))
}

// State reports where token stands in the session lifecycle.
func (m *Manager) State(ctx context.Context, token string) (State, error) {
	_, err := m.Resolve(ctx, token)
	switch {
	case err == nil:
		return Authenticated, nil
	case errors.Is(err, common.ErrInvalidAccessToken):
		return Anonymous, nil
	case errors.Is(err, common.ErrRefreshRequired):
		return AccessExpired, nil
	case errors.Is(err, common.ErrAllTokensExpired):
		return FullyExpired, nil
	default:
		return Anonymous, err
	}
}

// Refresh rotates both tokens of the session holding refreshToken. The
// rotation is conditional on the session still holding refreshToken, so of
// concurrent callers presenting the same token exactly one succeeds.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Refreshed, error) {
	sess, err := m.sessionBy(ctx, "refreshToken", refreshToken)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, err
	}

	s, err := m.settings(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if _, err := auth.ParseToken(refreshToken, s.refreshSecret, now); err != nil {
		return nil, common.ErrInvalidRefreshToken
	}

	employee := sess.Data.String("employee")
	access, refresh, err := m.sign(employee, s, now)
	if err != nil {
		return nil, err
	}
	_, err = m.repo.UpdateWithoutRevisionIf(ctx, sess.ID,
		models.Document{"refreshToken": refreshToken},
		models.Document{"accessToken": access, "refreshToken": refresh})
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	expires := now.Add(s.refreshPeriod).UTC()
	m.logger.Debug(ctx, "session refreshed", "employee", employee)
	return &Refreshed{
		AccessToken:    access,
		RefreshToken:   refresh,
		SessionPeriod:  int(s.refreshPeriod / time.Minute),
		ExpirationDate: expires,
		Cookie:         refreshCookie(refresh, expires),
	}, nil
}

// Logout clears both tokens of the session identified by token, which may
// be either its access or its refresh token. Unknown tokens are ignored.
func (m *Manager) Logout(ctx context.Context, token string) error {
	sess, err := m.sessionBy(ctx, "accessToken", token)
	if errors.Is(err, common.ErrorNotFound) {
		sess, err = m.sessionBy(ctx, "refreshToken", token)
	}
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := m.repo.UpdateWithoutRevision(ctx, sess.ID, models.Document{
		"accessToken":  "",
		"refreshToken": "",
	}); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	m.logger.Info(ctx, "session closed", "employee", sess.Data.String("employee"))
	return nil
}

func refreshCookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     common.RefreshTokenCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
