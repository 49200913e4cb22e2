package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rexliu/delegate/pkg/core"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"), Options{JournalMode: "WAL", Synchronous: "NORMAL"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	recs := []core.RequestRecord{
		{ID: 1, Method: "eth_accounts", CreatedAt: 100},
		{ID: 2, Method: "personal_sign", Params: json.RawMessage(`["0x1","0x2"]`), CreatedAt: 200},
	}
	for _, rec := range recs {
		if err := store.RecordRequest(ctx, rec); err != nil {
			t.Fatalf("record %d: %v", rec.ID, err)
		}
	}
	if err := store.SettleRequest(ctx, 1, core.RequestResolved, ""); err != nil {
		t.Fatalf("settle 1: %v", err)
	}
	if err := store.SettleRequest(ctx, 2, core.RequestRejected, "The request was denied by the user (code 4001)"); err != nil {
		t.Fatalf("settle 2: %v", err)
	}
	if err := store.SettleRequest(ctx, 99, core.RequestResolved, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := store.ListRequests(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(got))
	}
	if got[0].ID != 2 || got[0].Status != core.RequestRejected || got[0].Error == "" {
		t.Fatalf("unexpected newest request %+v", got[0])
	}
	if string(got[0].Params) != `["0x1","0x2"]` {
		t.Fatalf("params lost: %s", got[0].Params)
	}
	if got[1].Status != core.RequestResolved || got[1].SettledAt == 0 || got[1].Params != nil {
		t.Fatalf("unexpected oldest request %+v", got[1])
	}

	limited, err := store.ListRequests(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit: %v %d", err, len(limited))
	}
}

func TestInteractionsAndSnapshot(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	first := core.Interaction{ID: core.NewInteractionID(), URL: "https://wallet.example/a", Outcome: core.OutcomeSuccess, OpenedAt: 10, ClosedAt: 20}
	second := core.Interaction{ID: core.NewInteractionID(), URL: "https://wallet.example/b", Outcome: core.OutcomeUserClosed, Error: "User closed the popup", OpenedAt: 30, ClosedAt: 40}
	for _, rec := range []core.Interaction{first, second} {
		if err := store.RecordInteraction(ctx, rec); err != nil {
			t.Fatalf("record interaction: %v", err)
		}
	}
	if err := store.RecordRequest(ctx, core.RequestRecord{ID: 1, Method: "eth_accounts"}); err != nil {
		t.Fatalf("record request: %v", err)
	}

	snap, err := store.Snapshot(ctx, "dev", 10)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Profile != "dev" || len(snap.Interactions) != 2 || len(snap.Requests) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Interactions[0] != second {
		t.Fatalf("expected newest interaction first, got %+v", snap.Interactions[0])
	}
	if snap.Requests[0].Status != core.RequestPending {
		t.Fatalf("expected pending default, got %s", snap.Requests[0].Status)
	}
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	v, err := store.Meta(ctx, "schemaVersion")
	if err != nil || v != "1" {
		t.Fatalf("schemaVersion = %q, %v", v, err)
	}
	if err := store.SetMeta(ctx, "lastCommit", "abc"); err != nil {
		t.Fatalf("set meta: %v", err)
	}
	if err := store.SetMeta(ctx, "lastCommit", "def"); err != nil {
		t.Fatalf("set meta again: %v", err)
	}
	v, _ = store.Meta(ctx, "lastCommit")
	if v != "def" {
		t.Fatalf("lastCommit = %q", v)
	}
	v, _ = store.Meta(ctx, "missing")
	if v != "" {
		t.Fatalf("missing = %q", v)
	}
}
