package grpc

import (
	"net/http"

	"github.com/orgware/owconnect/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps a domain error onto a gRPC status carrying its code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var c codes.Code
	switch common.StatusOf(err) {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		c = codes.InvalidArgument
	case http.StatusUnauthorized:
		c = codes.Unauthenticated
	case http.StatusNotFound:
		c = codes.NotFound
	case http.StatusConflict:
		c = codes.AlreadyExists
	case http.StatusServiceUnavailable:
		c = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(c, common.CodeOf(err)+": "+err.Error())
}
