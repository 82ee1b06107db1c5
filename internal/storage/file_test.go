package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "respbot/pkg/logx"
)

func openTestFile(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "resp.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestFileStateRoundTrip(t *testing.T) {
	t.Parallel()

	st := openTestFile(t)
	ctx := context.Background()

	if _, ok, err := st.LoadState(ctx); err != nil || ok {
		t.Fatalf("LoadState on fresh store = ok=%v err=%v, want absent", ok, err)
	}

	started := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	in := State{
		Version: StateVersion,
		SavedAt: started,
		Slots: []SlotState{{
			Code: "f4", Name: "Fortress 4", Tier: 1,
			Claim: &ClaimState{HolderID: 7, HolderName: "ana", TotalSeconds: 9000, StartedAt: started},
			Queue: []QueueEntryState{
				{RequesterID: 8, RequesterName: "bo", DesiredSeconds: 5400, EnqueuedAt: started},
				{RequesterID: 9, RequesterName: "cy", EnqueuedAt: started.Add(time.Minute)},
			},
		}, {
			Code: "d2", Name: "D2", Tier: 3,
			Offer: &OfferState{OffereeID: 11, OffereeName: "di", OfferedAt: started},
		}},
	}
	if err := st.SaveState(ctx, in); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	out, ok, err := st.LoadState(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadState = ok=%v err=%v", ok, err)
	}
	if len(out.Slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(out.Slots))
	}
	f4 := out.Slots[0]
	if f4.Claim == nil || f4.Claim.HolderID != 7 || f4.Claim.TotalSeconds != 9000 {
		t.Fatalf("claim did not round-trip: %+v", f4.Claim)
	}
	if !f4.Claim.StartedAt.Equal(started) {
		t.Fatalf("StartedAt = %v, want %v", f4.Claim.StartedAt, started)
	}
	if len(f4.Queue) != 2 || f4.Queue[1].DesiredSeconds != 0 {
		t.Fatalf("queue did not round-trip: %+v", f4.Queue)
	}
	if out.Slots[1].Offer == nil || out.Slots[1].Offer.OffereeID != 11 {
		t.Fatalf("offer did not round-trip: %+v", out.Slots[1].Offer)
	}
}

func TestFileSaveReplacesSnapshot(t *testing.T) {
	t.Parallel()

	st := openTestFile(t)
	ctx := context.Background()

	if err := st.SaveState(ctx, State{Version: StateVersion, Slots: []SlotState{{Code: "f4"}}}); err != nil {
		t.Fatalf("first SaveState: %v", err)
	}
	if err := st.SaveState(ctx, State{Version: StateVersion, Slots: []SlotState{{Code: "d2"}}}); err != nil {
		t.Fatalf("second SaveState: %v", err)
	}

	out, ok, err := st.LoadState(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadState = ok=%v err=%v", ok, err)
	}
	if len(out.Slots) != 1 || out.Slots[0].Code != "d2" {
		t.Fatalf("snapshot was not replaced: %+v", out.Slots)
	}
}

func TestFileCorruptStateFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "resp.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := os.WriteFile(filepath.Join(dir, "resp.state.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt state: %v", err)
	}
	if _, _, err := st.LoadState(context.Background()); err == nil {
		t.Fatal("LoadState on corrupt file should fail")
	}

	good := State{Version: 99}
	if err := st.SaveState(context.Background(), good); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if _, _, err := st.LoadState(context.Background()); err == nil {
		t.Fatal("LoadState on unsupported version should fail")
	}
}

func TestFileAuditAppendAndPrune(t *testing.T) {
	t.Parallel()

	st := openTestFile(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := AuditEntry{At: base.AddDate(0, 0, i), Action: "claim", Slot: "f4", ActorID: int64(i)}
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit(%d): %v", i, err)
		}
	}

	if err := st.PruneAudit(ctx, base.AddDate(0, 0, 3)); err != nil {
		t.Fatalf("PruneAudit: %v", err)
	}

	// Appending after prune must still work; the file handle is reopened.
	if err := st.AppendAudit(ctx, AuditEntry{At: base.AddDate(0, 0, 9), Action: "release", Slot: "f4"}); err != nil {
		t.Fatalf("AppendAudit after prune: %v", err)
	}
}
