package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func testSnapshot(reportType string, profitYear int, value string) *ArchivedSnapshot {
	return &ArchivedSnapshot{
		SnapshotId: fmt.Sprintf("%s-%d-%s", reportType, profitYear, value),
		ReportType: reportType,
		ProfitYear: profitYear,
		Entries: []ChecksumEntry{
			{FieldName: "TotalAmount", CanonicalValue: value},
		},
	}
}

func TestMemoryStorePutAndGetCurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()

	if _, err := store.GetCurrentSnapshot(ctx, "PAY426N", 2025); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}

	first := testSnapshot("PAY426N", 2025, "100.00")
	if err := store.PutSnapshot(ctx, first); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}

	got, err := store.GetCurrentSnapshot(ctx, "PAY426N", 2025)
	if err != nil {
		t.Fatalf("GetCurrentSnapshot: %v", err)
	}
	if got.SnapshotId != first.SnapshotId {
		t.Errorf("current = %s, want %s", got.SnapshotId, first.SnapshotId)
	}

	// Other keys stay independent.
	if _, err := store.GetCurrentSnapshot(ctx, "PAY426N", 2024); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound for other year, got %v", err)
	}
	if _, err := store.GetCurrentSnapshot(ctx, "PAY443", 2025); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound for other type, got %v", err)
	}
}

func TestMemoryStoreRearchiveKeepsHistory(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()

	for _, v := range []string{"100.00", "200.00", "300.00"} {
		if err := store.PutSnapshot(ctx, testSnapshot("PAY426N", 2025, v)); err != nil {
			t.Fatalf("PutSnapshot: %v", err)
		}
	}

	current, err := store.GetCurrentSnapshot(ctx, "PAY426N", 2025)
	if err != nil {
		t.Fatalf("GetCurrentSnapshot: %v", err)
	}
	if current.Entries[0].CanonicalValue != "300.00" {
		t.Errorf("current value = %s, want the latest 300.00", current.Entries[0].CanonicalValue)
	}

	history, err := store.GetSnapshotHistory(ctx, "PAY426N", 2025, 0)
	if err != nil {
		t.Fatalf("GetSnapshotHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3 (append-only)", len(history))
	}
	// Newest first.
	for i, want := range []string{"300.00", "200.00", "100.00"} {
		if got := history[i].Entries[0].CanonicalValue; got != want {
			t.Errorf("history[%d] = %s, want %s", i, got, want)
		}
	}

	limited, err := store.GetSnapshotHistory(ctx, "PAY426N", 2025, 2)
	if err != nil {
		t.Fatalf("GetSnapshotHistory limited: %v", err)
	}
	if len(limited) != 2 || limited[0].Entries[0].CanonicalValue != "300.00" {
		t.Errorf("limited history wrong: got %d entries", len(limited))
	}
}

func TestMemoryStoreListCurrentKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()

	for _, s := range []*ArchivedSnapshot{
		testSnapshot("PAY443", 2025, "1.00"),
		testSnapshot("PAY426N", 2025, "1.00"),
		testSnapshot("PAY426N", 2024, "1.00"),
	} {
		if err := store.PutSnapshot(ctx, s); err != nil {
			t.Fatalf("PutSnapshot: %v", err)
		}
	}

	all, err := store.ListCurrentKeys(ctx, nil)
	if err != nil {
		t.Fatalf("ListCurrentKeys: %v", err)
	}
	want := []SnapshotKey{
		{ReportType: "PAY426N", ProfitYear: 2024},
		{ReportType: "PAY426N", ProfitYear: 2025},
		{ReportType: "PAY443", ProfitYear: 2025},
	}
	if len(all) != len(want) {
		t.Fatalf("keys = %v, want %v", all, want)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("keys[%d] = %v, want %v", i, all[i], want[i])
		}
	}

	year := 2025
	filtered, err := store.ListCurrentKeys(ctx, &year)
	if err != nil {
		t.Fatalf("ListCurrentKeys filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("filtered keys = %v, want the two 2025 keys", filtered)
	}
}

func TestMemoryStoreConcurrentPutsLoseNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := testSnapshot("PAY426N", 2025, fmt.Sprintf("%d.00", i))
			if err := store.PutSnapshot(ctx, snap); err != nil {
				t.Errorf("PutSnapshot: %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := store.GetSnapshotHistory(ctx, "PAY426N", 2025, writers)
	if err != nil {
		t.Fatalf("GetSnapshotHistory: %v", err)
	}
	if len(history) != writers {
		t.Fatalf("history length = %d, want %d (no row may be lost)", len(history), writers)
	}

	// Current pointer must reference one of the appended rows.
	current, err := store.GetCurrentSnapshot(ctx, "PAY426N", 2025)
	if err != nil {
		t.Fatalf("GetCurrentSnapshot: %v", err)
	}
	if current.ID == 0 {
		t.Error("current snapshot has no row id")
	}
}

func TestMemoryStoreRejectsDuplicateSnapshotId(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()

	if err := store.PutSnapshot(ctx, testSnapshot("PAY426N", 2025, "100.00")); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}
	err := store.PutSnapshot(ctx, testSnapshot("PAY426N", 2025, "100.00"))
	if !errors.Is(err, ErrDuplicateSnapshotId) {
		t.Fatalf("err = %v, want ErrDuplicateSnapshotId for a reused id", err)
	}

	history, _ := store.GetSnapshotHistory(ctx, "PAY426N", 2025, 0)
	if len(history) != 1 {
		t.Errorf("history = %d rows, want the rejected retry to leave no row", len(history))
	}
}

func TestMemoryStoreReadsAreIsolatedCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySnapshotStore()

	if err := store.PutSnapshot(ctx, testSnapshot("PAY426N", 2025, "100.00")); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}

	got, _ := store.GetCurrentSnapshot(ctx, "PAY426N", 2025)
	got.Entries[0].CanonicalValue = "tampered"

	again, _ := store.GetCurrentSnapshot(ctx, "PAY426N", 2025)
	if again.Entries[0].CanonicalValue != "100.00" {
		t.Fatal("mutating a read result leaked into the store")
	}
}
