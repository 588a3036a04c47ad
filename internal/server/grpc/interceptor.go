package grpc

import (
	"context"
	"strings"

	"github.com/orgware/owconnect/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

var exemptMethods = map[string]struct{}{
	"Login":   {},
	"Refresh": {},
	"Logout":  {},
	"State":   {},
}

// accessTokenInterceptor authenticates calls to the session service the
// same way the HTTP gate does. Other services (health) pass through.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	name, ok := strings.CutPrefix(info.FullMethod, "/"+ServiceName+"/")
	if !ok {
		return handler(ctx, req)
	}
	if _, exempt := exemptMethods[name]; exempt {
		return handler(ctx, req)
	}

	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AuthorizationHeaderName); len(values) > 0 {
			header = values[0]
		}
	}

	ctx, err := s.gate.Authenticate(ctx, header)
	if err != nil {
		return nil, toStatus(err)
	}
	return handler(ctx, req)
}
