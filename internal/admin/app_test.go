package admin

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type call struct {
	method string
	in     map[string]any
	auth   []string
}

type fakeSession struct {
	calls   []call
	replies map[string]map[string]any
	err     error
}

func (f *fakeSession) Call(ctx context.Context, method string, in map[string]any, _ ...grpc.CallOption) (map[string]any, error) {
	md, _ := metadata.FromOutgoingContext(ctx)
	f.calls = append(f.calls, call{method: method, in: in, auth: md.Get("authorization")})
	if f.err != nil {
		return nil, f.err
	}
	return f.replies[method], nil
}

type fakeSetter struct {
	username, password string
	temporary          bool
	err                error
}

func (f *fakeSetter) SetPassword(_ context.Context, username, password string, temporary bool) error {
	f.username, f.password, f.temporary = username, password, temporary
	return f.err
}

func stubPasswords(t *testing.T, pws ...string) {
	t.Helper()
	orig := readPassword
	i := 0
	readPassword = func(int) ([]byte, error) {
		if i >= len(pws) {
			return nil, errors.New("no more input")
		}
		pw := []byte(pws[i])
		i++
		return pw, nil
	}
	t.Cleanup(func() { readPassword = orig })
}

func newTestApp(t *testing.T, input string) (*App, *fakeSession, *fakeSetter, *bytes.Buffer) {
	t.Helper()
	cfg := &Config{}
	cfg.LoadDefaults()

	var out bytes.Buffer
	a := NewApp(cfg, strings.NewReader(input), &out)

	sess := &fakeSession{replies: map[string]map[string]any{
		"Login":   {"accessToken": "acc-1", "refreshToken": "ref-1", "expirationDate": "2024-03-02T00:40:00Z"},
		"Refresh": {"accessToken": "acc-2", "refreshToken": "ref-2", "expirationDate": "2024-03-02T01:00:00Z"},
		"WhoAmI":  {"username": "tmaria", "employee": "0000000017", "email": "pelda.maria@pelda.hu"},
		"State":   {"state": "authenticated"},
		"Logout":  {"ok": true},
	}}
	setter := &fakeSetter{}

	a.dial = func(addr string) (SessionCaller, func() error, error) {
		return sess, func() error { return nil }, nil
	}
	a.openPasswords = func(context.Context, *Config) (PasswordSetter, func() error, error) {
		return setter, func() error { return nil }, nil
	}
	t.Cleanup(a.Close)
	return a, sess, setter, &out
}

func TestPasswd(t *testing.T) {
	a, _, setter, out := newTestApp(t, "")
	stubPasswords(t, "s3cret", "s3cret")

	require.NoError(t, a.Run(context.Background(), []string{"passwd", "tmaria", "-temp"}))
	assert.Equal(t, "tmaria", setter.username)
	assert.Equal(t, "s3cret", setter.password)
	assert.True(t, setter.temporary)
	assert.Contains(t, out.String(), "Password of tmaria updated")
}

func TestPasswd_Errors(t *testing.T) {
	a, _, setter, _ := newTestApp(t, "")

	err := a.exec(context.Background(), "passwd", nil)
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("want usage error, got %v", err)
	}

	stubPasswords(t, "one", "two")
	err = a.exec(context.Background(), "passwd", []string{"tmaria"})
	assert.ErrorIs(t, err, ErrPasswordMismatch)
	assert.Empty(t, setter.username)

	a.openPasswords = func(context.Context, *Config) (PasswordSetter, func() error, error) {
		return nil, nil, errors.New("connection refused")
	}
	stubPasswords(t, "same", "same")
	err = a.exec(context.Background(), "passwd", []string{"tmaria"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open database")
}

func TestSessionFlow(t *testing.T) {
	a, sess, _, out := newTestApp(t, "")
	ctx := context.Background()
	stubPasswords(t, "alma")

	require.NoError(t, a.exec(ctx, "login", []string{"tmaria"}))
	assert.Equal(t, "owadmin (tmaria)> ", a.prompt())
	assert.Equal(t, map[string]any{"username": "tmaria", "password": "alma"}, sess.calls[0].in)

	require.NoError(t, a.exec(ctx, "whoami", nil))
	assert.Equal(t, []string{"Bearer acc-1"}, sess.calls[1].auth)
	assert.Contains(t, out.String(), "employee: 0000000017")

	require.NoError(t, a.exec(ctx, "refresh", nil))
	assert.Equal(t, "ref-1", sess.calls[2].in["refreshToken"])
	assert.Equal(t, "acc-2", a.accessToken)

	require.NoError(t, a.exec(ctx, "state", nil))
	assert.Contains(t, out.String(), "authenticated")

	require.NoError(t, a.exec(ctx, "logout", nil))
	assert.Equal(t, "acc-2", sess.calls[4].in["token"])
	assert.Equal(t, "owadmin> ", a.prompt())
}

func TestLogin_PromptsForUsername(t *testing.T) {
	a, sess, _, _ := newTestApp(t, "owadmin\n")
	stubPasswords(t, "redblod")

	require.NoError(t, a.exec(context.Background(), "login", nil))
	assert.Equal(t, "owadmin", sess.calls[0].in["username"])
}

func TestCommandsRequireLogin(t *testing.T) {
	a, sess, _, _ := newTestApp(t, "")
	for _, cmd := range []string{"whoami", "refresh", "logout"} {
		err := a.exec(context.Background(), cmd, nil)
		assert.ErrorIs(t, err, ErrNotLoggedIn, cmd)
	}
	assert.Empty(t, sess.calls)
}

func TestRemoteErrorIsReturned(t *testing.T) {
	a, sess, _, _ := newTestApp(t, "")
	sess.err = errors.New("rpc error: code = Unauthenticated desc = invalid credentials")
	stubPasswords(t, "wrong")

	err := a.exec(context.Background(), "login", []string{"tmaria"})
	require.Error(t, err)
	assert.Empty(t, a.accessToken)
}

func TestUnknownCommand(t *testing.T) {
	a, _, _, _ := newTestApp(t, "")
	if err := a.Run(context.Background(), []string{"frobnicate"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRoot_Smoke(t *testing.T) {
	a, _, _, out := newTestApp(t, "help\nbogus\nexit\nwhoami\n")
	require.NoError(t, a.Run(context.Background(), nil))

	s := out.String()
	assert.Contains(t, s, "Available commands")
	assert.Contains(t, s, "error: unknown command: bogus")
	assert.Contains(t, s, "Bye!")
	assert.NotContains(t, s, ErrNotLoggedIn.Error())
}

func TestRoot_StopsOnEOF(t *testing.T) {
	a, _, _, out := newTestApp(t, "help")
	a.Root(context.Background())
	assert.Contains(t, out.String(), "Available commands")
}
