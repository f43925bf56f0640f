// Package grpcapi exposes the ledger's money-moving operations over gRPC.
//
// The service is described by a hand-written ServiceDesc whose messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP API.
package grpcapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/business-ledger/internal/auth"
	"github.com/example/business-ledger/internal/ledger"
)

const ServiceName = "ledger.v1.Ledger"

// Ledger is the subset of *ledger.Engine the service uses.
type Ledger interface {
	Credit(ctx context.Context, req ledger.CreditRequest) (*ledger.Transaction, error)
	Debit(ctx context.Context, req ledger.DebitRequest) (*ledger.Transaction, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.Transaction, error)
	GetTransaction(ctx context.Context, ownerID, id uuid.UUID) (*ledger.Transaction, error)
}

// LedgerService is the handler type registered under ServiceName.
type LedgerService interface {
	Credit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Debit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type Server struct {
	ledger Ledger
	logger *slog.Logger
}

func NewServer(l Ledger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ledger: l, logger: logger}
}

var _ LedgerService = (*Server)(nil)

type entryMessage struct {
	AccountID      uuid.UUID       `json:"account_id"`
	AmountCents    int64           `json:"amount_cents"`
	Description    *string         `json:"description"`
	IdempotencyKey *string         `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
}

type transferMessage struct {
	FromAccountID  uuid.UUID       `json:"from_account_id"`
	ToAccountID    uuid.UUID       `json:"to_account_id"`
	AmountCents    int64           `json:"amount_cents"`
	Description    *string         `json:"description"`
	IdempotencyKey *string         `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
}

type getTransactionMessage struct {
	ID uuid.UUID `json:"id"`
}

func (s *Server) Credit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	var m entryMessage
	if err := decode(req, &m); err != nil {
		return nil, err
	}
	t, err := s.ledger.Credit(ctx, ledger.CreditRequest{
		OwnerID:        p.OwnerID,
		AccountID:      m.AccountID,
		AmountCents:    m.AmountCents,
		Description:    m.Description,
		IdempotencyKey: m.IdempotencyKey,
		Metadata:       nullToEmpty(m.Metadata),
	})
	return s.reply(ctx, t, err)
}

func (s *Server) Debit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	var m entryMessage
	if err := decode(req, &m); err != nil {
		return nil, err
	}
	t, err := s.ledger.Debit(ctx, ledger.DebitRequest{
		OwnerID:        p.OwnerID,
		AccountID:      m.AccountID,
		AmountCents:    m.AmountCents,
		Description:    m.Description,
		IdempotencyKey: m.IdempotencyKey,
		Metadata:       nullToEmpty(m.Metadata),
	})
	return s.reply(ctx, t, err)
}

func (s *Server) Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	var m transferMessage
	if err := decode(req, &m); err != nil {
		return nil, err
	}
	t, err := s.ledger.Transfer(ctx, ledger.TransferRequest{
		OwnerID:        p.OwnerID,
		FromAccountID:  m.FromAccountID,
		ToAccountID:    m.ToAccountID,
		AmountCents:    m.AmountCents,
		Description:    m.Description,
		IdempotencyKey: m.IdempotencyKey,
		Metadata:       nullToEmpty(m.Metadata),
	})
	return s.reply(ctx, t, err)
}

func (s *Server) GetTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	var m getTransactionMessage
	if err := decode(req, &m); err != nil {
		return nil, err
	}
	t, err := s.ledger.GetTransaction(ctx, p.OwnerID, m.ID)
	return s.reply(ctx, t, err)
}

func (s *Server) reply(ctx context.Context, t *ledger.Transaction, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func principal(ctx context.Context) (*auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid_api_key")
	}
	return p, nil
}

// decode round-trips the Struct through JSON so integer and UUID fields get
// the same checks as HTTP request bodies.
func decode(req *structpb.Struct, dst any) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "invalid_request: empty message")
	}
	raw, err := protojson.Marshal(req)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid_request: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid_request: %v", err)
	}
	return nil
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if string(raw) == "null" {
		return nil
	}
	return raw
}

// Register adds the ledger service to s.
func Register(s grpc.ServiceRegistrar, svc LedgerService) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*LedgerService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Credit", Handler: unaryHandler("Credit", LedgerService.Credit)},
			{MethodName: "Debit", Handler: unaryHandler("Debit", LedgerService.Debit)},
			{MethodName: "Transfer", Handler: unaryHandler("Transfer", LedgerService.Transfer)},
			{MethodName: "GetTransaction", Handler: unaryHandler("GetTransaction", LedgerService.GetTransaction)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "ledger/v1/ledger.proto",
	}, svc)
}

type unaryMethod func(LedgerService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		svc := srv.(LedgerService)
		if interceptor == nil {
			return call(svc, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(svc, ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

// Client is a thin typed wrapper over a connection, used by tests and tools.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
