package postgres

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", User: "u", Password: "p", Database: "winnerbot"},
			want: "postgres://u:p@db:5432/winnerbot?sslmode=disable",
		},
		{
			name: "explicit port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, User: "u", Database: "d", SSLMode: "require"},
			want: "postgres://u:@db:6543/d?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Fatalf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListQuery(t *testing.T) {
	since := time.Unix(1_700_000_000, 0)
	query, args := listQuery("SELECT * FROM t", domain.ListOpts{Since: &since, Limit: 10, Offset: 20})

	want := "SELECT * FROM t WHERE 1=1 AND created_at >= $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3"
	if query != want {
		t.Fatalf("query = %q\nwant    %q", query, want)
	}
	if len(args) != 3 || args[1] != 10 || args[2] != 20 {
		t.Fatalf("args = %v", args)
	}

	query, args = listQuery("SELECT * FROM t", domain.ListOpts{})
	if query != "SELECT * FROM t WHERE 1=1 ORDER BY created_at DESC" || len(args) != 0 {
		t.Fatalf("bare query = %q, args = %v", query, args)
	}
}

// testClient connects to WINNERBOT_TEST_POSTGRES_DSN, migrates, or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("WINNERBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WINNERBOT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return c
}

func TestSubmissionStoreRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	store := NewSubmissionStore(c.Pool())

	hash := common.HexToHash("0xbeef")
	nonce := uint64(9)
	sub := domain.Submission{
		ID:          uuid.NewString(),
		SourceHash:  common.HexToHash("0x01"),
		Strategy:    "winner_snipe",
		To:          common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9"),
		Data:        []byte{0xed, 0x05, 0x08, 0x4e},
		FeePerGas:   new(big.Int).Lsh(big.NewInt(1), 200),
		GasLimit:    100_000,
		TxHash:      &hash,
		Nonce:       &nonce,
		Status:      domain.SubmissionSubmitted,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
		CompletedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.GetByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.FeePerGas.Cmp(sub.FeePerGas) != 0 {
		t.Fatalf("fee = %s, want %s", got.FeePerGas, sub.FeePerGas)
	}
	if got.TxHash == nil || *got.TxHash != hash || got.Nonce == nil || *got.Nonce != 9 {
		t.Fatalf("tx hash/nonce = %v/%v", got.TxHash, got.Nonce)
	}
	if got.To != sub.To || string(got.Data) != string(sub.Data) {
		t.Fatalf("to/data = %s/%x", got.To.Hex(), got.Data)
	}

	if _, err := store.GetByID(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing id err = %v", err)
	}
}

func TestAuditStoreLogAndList(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	audit := NewAuditStore(c.Pool())

	marker := uuid.NewString()
	if err := audit.Log(ctx, "test.event", map[string]any{"marker": marker}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	entries, err := audit.List(ctx, domain.ListOpts{Limit: 5})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, e := range entries {
		if e.Detail["marker"] == marker {
			return
		}
	}
	t.Fatalf("audit entry %s not listed", marker)
}
