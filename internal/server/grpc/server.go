package grpc

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/logging"
	"github.com/orgware/owconnect/internal/server/gateway"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/orgware/owconnect/internal/server/services"
	"github.com/orgware/owconnect/internal/server/sessions"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// Authenticator runs the credential flows.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*services.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*sessions.Refreshed, error)
	Logout(ctx context.Context, token string) error
}

// StateReporter reports the lifecycle position of a token.
type StateReporter interface {
	State(ctx context.Context, token string) (sessions.State, error)
}

type GRPCServer struct {
	address string
	auth    Authenticator
	states  StateReporter
	gate    *gateway.Gate
	health  *health.Server
	logger  logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, auth Authenticator, states StateReporter, gate *gateway.Gate) *GRPCServer {
	return &GRPCServer{
		address: a,
		auth:    auth,
		states:  states,
		gate:    gate,
		health:  health.NewServer(),
		logger:  l.With("module", "grpc_server"),
	}
}

// Register adds the session and health services to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	srv.RegisterService(&ServiceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// NewServer returns a grpc.Server with the interceptor installed and the services registered.
func (s *GRPCServer) NewServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	s.Register(srv)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())
	if err := srv.Serve(listen); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func str(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	if v, ok := in.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func (s *GRPCServer) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.auth.Login(ctx, str(in, "username"), str(in, "password"))
	if err != nil {
		return nil, toStatus(err)
	}

	s.logger.Info(ctx, "Logged in over gRPC", "username", res.CurrentUser.Username)
	return structpb.NewStruct(map[string]any{
		"accessToken":    res.AccessToken,
		"refreshToken":   res.Cookie.Value,
		"sessionPeriod":  res.SessionPeriod,
		"expirationDate": res.Cookie.Expires.UTC().Format(time.RFC3339),
		"currentUser":    principalFields(res.CurrentUser),
	})
}

func (s *GRPCServer) Refresh(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.auth.Refresh(ctx, str(in, "refreshToken"))
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"accessToken":    res.AccessToken,
		"refreshToken":   res.RefreshToken,
		"sessionPeriod":  res.SessionPeriod,
		"expirationDate": res.ExpirationDate.UTC().Format(time.RFC3339),
	})
}

func (s *GRPCServer) Logout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.auth.Logout(ctx, str(in, "token")); err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"ok": true})
}

func (s *GRPCServer) WhoAmI(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, ok := models.PrincipalFrom(ctx)
	if !ok {
		return nil, toStatus(common.ErrNoAccessToken)
	}
	return structpb.NewStruct(principalFields(p))
}

func (s *GRPCServer) State(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.states.State(ctx, str(in, "token"))
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"state": st.String()})
}

func principalFields(p *models.Principal) map[string]any {
	return map[string]any{
		"_id":      p.ID,
		"employee": p.Employee,
		"username": p.Username,
		"email":    p.Email,
	}
}
