package services

import (
	"context"
	"errors"
	"net/http"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/orgware/owconnect/internal/server/sessions"
)

// LoginResult is returned to the client after a successful login. The
// refresh token only travels in Cookie.
type LoginResult struct {
	AccessToken   string            `json:"accessToken"`
	SessionPeriod int               `json:"sessionPeriod"`
	CurrentUser   *models.Principal `json:"currentUser"`
	Cookie        *http.Cookie      `json:"-"`
}

// Authenticator runs the credential flows on top of users, passwords and sessions.
type Authenticator struct {
	users     *Users
	passwords *Passwords
	sessions  *sessions.Manager
	logger    logging.Logger
}

func NewAuthenticator(users *Users, passwords *Passwords, m *sessions.Manager, l logging.Logger) *Authenticator {
	return &Authenticator{users: users, passwords: passwords, sessions: m, logger: l.With("module", "auth")}
}

func (a *Authenticator) Sessions() *sessions.Manager { return a.sessions }

// Login checks the credentials and opens a new session. Unknown users and
// wrong passwords fail the same way.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := a.users.ByUsername(ctx, username)
	if errors.Is(err, common.ErrorNotFound) {
		a.logger.Warn(ctx, "login rejected", "username", username, "reason", "unknown user")
		return nil, common.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := a.passwords.IsValid(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		a.logger.Warn(ctx, "login rejected", "username", username, "reason", "bad password")
		return nil, common.ErrInvalidCredentials
	}

	issued, err := a.sessions.Issue(ctx, user.Employee, user.Username)
	if err != nil {
		return nil, err
	}
	a.logger.Info(ctx, "user logged in", "username", username)

	return &LoginResult{
		AccessToken:   issued.AccessToken,
		SessionPeriod: issued.SessionPeriod,
		CurrentUser:   user,
		Cookie:        issued.Cookie(),
	}, nil
}

func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*sessions.Refreshed, error) {
	return a.sessions.Refresh(ctx, refreshToken)
}

func (a *Authenticator) Logout(ctx context.Context, token string) error {
	return a.sessions.Logout(ctx, token)
}

// Authenticate resolves an access token into the context principal.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (context.Context, error) {
	p, err := a.sessions.Resolve(ctx, token)
	if err != nil {
		return ctx, err
	}
	return models.WithPrincipal(ctx, p), nil
}

func (a *Authenticator) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return a.passwords.Change(ctx, oldPassword, newPassword)
}

func (a *Authenticator) IsPasswordValid(ctx context.Context, username, password string) (bool, error) {
	return a.passwords.IsValid(ctx, username, password)
}

func (a *Authenticator) CreateTemporaryPassword(ctx context.Context, username string) (string, error) {
	return a.passwords.CreateTemporary(ctx, username)
}
