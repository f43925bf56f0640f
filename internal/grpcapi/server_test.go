package grpcapi

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/business-ledger/internal/auth"
	"github.com/example/business-ledger/internal/database/dbtest"
	"github.com/example/business-ledger/internal/ledger"
)

var quietLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

type testEnv struct {
	ctx     context.Context
	client  *Client
	conn    *grpc.ClientConn
	engine  *ledger.Engine
	key     string
	owner   uuid.UUID
	account *ledger.Account
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	db := dbtest.SQLite(t)
	keys := &auth.SQLiteKeyStore{DB: db}
	raw, k, err := auth.Issue(ctx, keys, "Acme")
	require.NoError(t, err)

	engine := ledger.NewEngine(ledger.NewSQLiteStore(db), ledger.WithLogger(quietLogger))
	acc, err := engine.CreateAccount(ctx, ledger.NewAccount{OwnerID: k.ID, Name: "Main"})
	require.NoError(t, err)

	srv, _ := New(Config{Ledger: engine, Authenticator: &auth.Authenticator{Store: keys}, Logger: quietLogger})
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testEnv{
		ctx:     ctx,
		client:  NewClient(conn),
		conn:    conn,
		engine:  engine,
		key:     raw,
		owner:   k.ID,
		account: acc,
	}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestCreditDebitAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithAPIKey(env.ctx, env.key)

	credit, err := env.client.Call(ctx, "Credit", mustStruct(t, map[string]any{
		"account_id":      env.account.ID.String(),
		"amount_cents":    10000,
		"description":     "deposit",
		"idempotency_key": "grpc-1",
	}))
	require.NoError(t, err)
	fields := credit.GetFields()
	assert.Equal(t, "credit", fields["transaction_type"].GetStringValue())
	assert.Equal(t, float64(10000), fields["amount_cents"].GetNumberValue())
	assert.Equal(t, env.account.ID.String(), fields["to_account_id"].GetStringValue())

	_, err = env.client.Call(ctx, "Debit", mustStruct(t, map[string]any{
		"account_id":   env.account.ID.String(),
		"amount_cents": 2500,
	}))
	require.NoError(t, err)

	got, err := env.client.Call(ctx, "GetTransaction", mustStruct(t, map[string]any{
		"id": fields["id"].GetStringValue(),
	}))
	require.NoError(t, err)
	assert.Equal(t, fields["id"].GetStringValue(), got.GetFields()["id"].GetStringValue())

	acc, err := env.engine.GetAccount(env.ctx, env.owner, env.account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), acc.BalanceCents)
}

func TestTransferOverGRPC(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithAPIKey(env.ctx, env.key)
	other, err := env.engine.CreateAccount(env.ctx, ledger.NewAccount{OwnerID: env.owner, Name: "Other", InitialBalanceCents: 300})
	require.NoError(t, err)

	resp, err := env.client.Call(ctx, "Transfer", mustStruct(t, map[string]any{
		"from_account_id": other.ID.String(),
		"to_account_id":   env.account.ID.String(),
		"amount_cents":    300,
	}))
	require.NoError(t, err)
	assert.Equal(t, "transfer", resp.GetFields()["transaction_type"].GetStringValue())

	_, err = env.client.Call(ctx, "Transfer", mustStruct(t, map[string]any{
		"from_account_id": other.ID.String(),
		"to_account_id":   env.account.ID.String(),
		"amount_cents":    1,
	}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithAPIKey(env.ctx, env.key)
	acc := env.account.ID.String()

	tests := []struct {
		name   string
		method string
		req    map[string]any
		code   codes.Code
	}{
		{"zero amount", "Credit", map[string]any{"account_id": acc, "amount_cents": 0}, codes.InvalidArgument},
		{"fractional amount", "Credit", map[string]any{"account_id": acc, "amount_cents": 1.5}, codes.InvalidArgument},
		{"bad uuid", "Credit", map[string]any{"account_id": "x", "amount_cents": 1}, codes.InvalidArgument},
		{"unknown field", "Credit", map[string]any{"account_id": acc, "amount_cents": 1, "memo": "x"}, codes.InvalidArgument},
		{"missing account", "Debit", map[string]any{"account_id": uuid.NewString(), "amount_cents": 1}, codes.NotFound},
		{"insufficient", "Debit", map[string]any{"account_id": acc, "amount_cents": 1}, codes.FailedPrecondition},
		{"missing transaction", "GetTransaction", map[string]any{"id": uuid.NewString()}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.client.Call(ctx, tt.method, mustStruct(t, tt.req))
			assert.Equal(t, tt.code, status.Code(err), "%v", err)
		})
	}
}

func TestUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	req := mustStruct(t, map[string]any{"id": uuid.NewString()})

	_, err := env.client.Call(env.ctx, "GetTransaction", req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = env.client.Call(WithAPIKey(env.ctx, "lk_wrong"), "GetTransaction", req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestHealthIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	resp, err := healthpb.NewHealthClient(env.conn).Check(env.ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
