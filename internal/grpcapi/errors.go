package grpcapi

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/business-ledger/internal/ledger"
)

// toStatus maps ledger errors onto gRPC codes. The message starts with the
// same error code string the HTTP API uses.
func (s *Server) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return status.Error(codes.InvalidArgument, "invalid_amount: "+err.Error())
	case errors.Is(err, ledger.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, "invalid_request: "+err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		return status.Error(codes.NotFound, "account_not_found")
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return status.Error(codes.NotFound, "transaction_not_found")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return status.Error(codes.FailedPrecondition, "insufficient_balance")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		s.logger.ErrorContext(ctx, "grpc request failed", "error", err)
		return status.Error(codes.Internal, "internal_error")
	}
}
