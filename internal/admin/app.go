// Package admin implements owadmin, the operator tool of an owconnect
// deployment. Session commands talk to the gRPC SessionService; passwd
// writes credentials directly into the database.
package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/netx"
	"github.com/orgware/owconnect/internal/server/entity"
	gs "github.com/orgware/owconnect/internal/server/grpc"
	"github.com/orgware/owconnect/internal/server/services"
	"github.com/orgware/owconnect/internal/server/storage/postgres"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

var (
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// SessionCaller is the part of the gRPC session client owadmin uses.
type SessionCaller interface {
	Call(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (map[string]any, error)
}

// PasswordSetter stores a credential.
type PasswordSetter interface {
	SetPassword(ctx context.Context, username, password string, temporary bool) error
}

type App struct {
	config     *Config
	reader     *bufio.Reader
	out        io.Writer
	httpClient *http.Client

	dial          func(addr string) (SessionCaller, func() error, error)
	openPasswords func(ctx context.Context, c *Config) (PasswordSetter, func() error, error)

	session      SessionCaller
	closeSession func() error

	userName     string
	accessToken  string
	refreshToken string
}

func NewApp(c *Config, in io.Reader, out io.Writer) *App {
	return &App{
		config:        c,
		reader:        bufio.NewReader(in),
		out:           out,
		httpClient:    http.DefaultClient,
		dial:          dialSession,
		openPasswords: openPasswords,
	}
}

func dialSession(addr string) (SessionCaller, func() error, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return gs.NewSessionClient(conn), conn.Close, nil
}

func openPasswords(ctx context.Context, c *Config) (PasswordSetter, func() error, error) {
	store, err := postgres.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	l := logging.Nop()
	repo := entity.NewRepository(store, nil, l, services.PasswordsRepositoryConfig(c.SystemAccountCode, nil, c.BcryptCost))
	return services.NewPasswords(repo, c.BcryptCost, l), store.Close, nil
}

// Run executes a single command, or starts the interactive shell when
// args is empty.
func (a *App) Run(ctx context.Context, args []string) error {
	defer a.Close()

	if len(args) == 0 {
		a.Root(ctx)
		return nil
	}
	return a.exec(ctx, args[0], args[1:])
}

// Close releases the gRPC connection.
func (a *App) Close() {
	if a.closeSession != nil {
		_ = a.closeSession()
		a.session, a.closeSession = nil, nil
	}
}

func (a *App) prompt() string {
	if a.userName == "" {
		return "owadmin> "
	}
	return fmt.Sprintf("owadmin (%s)> ", a.userName)
}

// Root is the interactive shell.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "owconnect admin shell (type 'help' for commands)")

	for {
		fmt.Fprint(a.out, a.prompt())
		line, err := a.reader.ReadString('\n')
		parts := strings.Fields(line)

		if len(parts) > 0 {
			if parts[0] == "exit" || parts[0] == "quit" {
				fmt.Fprintln(a.out, "Bye!")
				return
			}
			if cmdErr := a.exec(ctx, parts[0], parts[1:]); cmdErr != nil {
				fmt.Fprintln(a.out, "error:", cmdErr)
			}
		}
		if err != nil {
			return
		}
	}
}

func (a *App) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(a.out, "Available commands: passwd <username> [-temp], login [username], whoami, state, refresh, logout, logo <company> <file>, exit")
		return nil
	case "passwd":
		return a.passwd(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "whoami":
		return a.whoami(ctx)
	case "state":
		return a.state(ctx)
	case "refresh":
		return a.refresh(ctx)
	case "logout":
		return a.logout(ctx)
	case "logo":
		return a.logo(ctx, args)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (a *App) client() (SessionCaller, error) {
	if a.session != nil {
		return a.session, nil
	}
	s, closeFn, err := a.dial(a.config.GRPCAddr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", a.config.GRPCAddr, err)
	}
	a.session, a.closeSession = s, closeFn
	return s, nil
}

func (a *App) passwd(ctx context.Context, args []string) error {
	var username string
	temporary := false
	for _, arg := range args {
		if arg == "-temp" {
			temporary = true
			continue
		}
		username = arg
	}
	if username == "" {
		return errors.New("usage: passwd <username> [-temp]")
	}

	pw, err := GetPassword(a.out, "New password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	again, err := GetPassword(a.out, "Repeat password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(again)

	if string(pw) != string(again) {
		return ErrPasswordMismatch
	}

	setter, closeFn, err := a.openPasswords(ctx, a.config)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeFn()

	if err := setter.SetPassword(ctx, username, string(pw), temporary); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Password of %s updated\n", username)
	return nil
}

func (a *App) login(ctx context.Context, args []string) error {
	username := ""
	if len(args) > 0 {
		username = args[0]
	} else {
		var err error
		if username, err = GetSimpleText(a.reader, "Username", a.out); err != nil {
			return err
		}
	}

	pw, err := GetPassword(a.out, "Password")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pw)

	c, err := a.client()
	if err != nil {
		return err
	}
	res, err := c.Call(ctx, "Login", map[string]any{"username": username, "password": string(pw)})
	if err != nil {
		return err
	}

	a.userName = username
	a.accessToken, _ = res["accessToken"].(string)
	a.refreshToken, _ = res["refreshToken"].(string)
	fmt.Fprintf(a.out, "Logged in as %s, session valid until %v\n", username, res["expirationDate"])
	return nil
}

func (a *App) authorized(ctx context.Context) (context.Context, error) {
	if a.accessToken == "" {
		return nil, ErrNotLoggedIn
	}
	return metadata.AppendToOutgoingContext(ctx, common.AuthorizationHeaderName, common.BearerPrefix+a.accessToken), nil
}

func (a *App) whoami(ctx context.Context) error {
	ctx, err := a.authorized(ctx)
	if err != nil {
		return err
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	res, err := c.Call(ctx, "WhoAmI", map[string]any{})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "username: %v\nemployee: %v\nemail: %v\n", res["username"], res["employee"], res["email"])
	return nil
}

func (a *App) state(ctx context.Context) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	res, err := c.Call(ctx, "State", map[string]any{"token": a.accessToken})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, res["state"])
	return nil
}

func (a *App) refresh(ctx context.Context) error {
	if a.refreshToken == "" {
		return ErrNotLoggedIn
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	res, err := c.Call(ctx, "Refresh", map[string]any{"refreshToken": a.refreshToken})
	if err != nil {
		return err
	}
	a.accessToken, _ = res["accessToken"].(string)
	a.refreshToken, _ = res["refreshToken"].(string)
	fmt.Fprintf(a.out, "Tokens refreshed, session valid until %v\n", res["expirationDate"])
	return nil
}

func (a *App) logout(ctx context.Context) error {
	if a.accessToken == "" {
		return ErrNotLoggedIn
	}
	c, err := a.client()
	if err != nil {
		return err
	}
	if _, err := c.Call(ctx, "Logout", map[string]any{"token": a.accessToken}); err != nil {
		return err
	}
	a.userName, a.accessToken, a.refreshToken = "", "", ""
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

// logo uploads an image through a presigned URL and records its key on
// the company.
func (a *App) logo(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: logo <company> <file>")
	}
	if a.accessToken == "" {
		return ErrNotLoggedIn
	}
	company, path := args[0], args[1]

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var target struct {
		Company struct {
			ID string `json:"_id"`
		} `json:"company"`
		Upload struct {
			Key string `json:"key"`
			URL string `json:"url"`
		} `json:"companyLogoUploadUrl"`
	}
	err = a.graphql(ctx, `query($c: String!) { company(code: $c) { _id } companyLogoUploadUrl(company: $c) { key url } }`,
		map[string]any{"c": company}, &target)
	if err != nil {
		return err
	}

	if err := netx.PutPresigned(ctx, a.httpClient, target.Upload.URL, http.DetectContentType(data), data); err != nil {
		return err
	}

	err = a.graphql(ctx, `mutation($id: String!, $key: String!) { updateCompany(_id: $id, logoFile: $key) { code } }`,
		map[string]any{"id": target.Company.ID, "key": target.Upload.Key}, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logo of company %s stored as %s\n", company, target.Upload.Key)
	return nil
}
