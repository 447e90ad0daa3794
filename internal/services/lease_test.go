package services

import (
	"errors"
	"testing"
	"time"

	"github.com/feedrelay/feedrelay/internal/models"
	"gorm.io/gorm"
)

func newTestLease(db *gorm.DB, owner string) *LeaseService {
	return NewLeaseService(db, owner, 2*time.Minute, 30*time.Second)
}

func TestTryAcquire_UnownedLease(t *testing.T) {
	db := setupTestDB(t)
	seedLeaseRow(t, db)
	a := newTestLease(db, "instance-a")

	info, err := a.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !info.Held {
		t.Error("unowned lease should be acquired")
	}
	if info.Status != models.LeaseStatusConnecting {
		t.Errorf("status = %q, want %q", info.Status, models.LeaseStatusConnecting)
	}
	if !a.Held() {
		t.Error("Held() should report true after acquire")
	}
}

func TestTryAcquire_HeldByOther(t *testing.T) {
	db := setupTestDB(t)
	seedLeaseRow(t, db)
	a := newTestLease(db, "instance-a")
	b := newTestLease(db, "instance-b")

	if _, err := a.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	info, err := b.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if info.Held {
		t.Error("live lease held by another instance must not be acquired")
	}
	if info.OwnerID != "instance-a" {
		t.Errorf("owner = %q, want instance-a", info.OwnerID)
	}
	if b.Held() {
		t.Error("Held() should report false for the loser")
	}
}

func TestTryAcquire_ExpiredLease(t *testing.T) {
	db := setupTestDB(t)
	seedLeaseRow(t, db)
	a := newTestLease(db, "instance-a")
	b := newTestLease(db, "instance-b")

	if _, err := a.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	// b observes a clock past a's expiry.
	b.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	info, err := b.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !info.Held {
		t.Error("expired lease should be reclaimable by another instance")
	}
	if info.OwnerID != "instance-b" {
		t.Errorf("owner = %q, want instance-b", info.OwnerID)
	}
}

func TestTryAcquire_Reacquire(t *testing.T) {
	db := setupTestDB(t)
	seedLeaseRow(t, db)
	a := newTestLease(db, "instance-a")

	if _, err := a.TryAcquire(); err != nil {
		t.Fatalf("first TryAcquire() error = %v", err)
	}
	a.now = func() time.Time { return time.Now().Add(time.Second) }
	info, err := a.TryAcquire()
	if err != nil {
		t.Fatalf("second TryAcquire() error = %v", err)
	}
	if !info.Held {
		t.Error("re-acquire by the current owner should succeed")
	}
}

func TestTryAcquire_ReacquireKeepsConnected(t *testing.T) {
	db := setupTestDB(t)
	seedLeaseRow(t, db)
	a := newTestLease(db, "instance-a")

	if _, err := a.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if err := a.SetStatus(models.LeaseStatusConnected); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	a.now = func() time.Time { return time.Now().Add(time.Second) }
	info, err := a.TryAcquire()
	if err != nil {
		t.Fatalf("second TryAcquire() error = %v", err)
	}
	if !info.Held {
		t.Error("re-acquire by the current owner should succeed")
	}
	if info.Status != models.LeaseStatusConnected {
		t.Errorf("re-acquire knocked status back to %q, want it to stay connected", info.Status)
	}
}

func TestTick_PromotesToConnected(t *testing.T) {
	db := setupTestDB(t)
	seedLeaseRow(t, db)
	a := newTestLease(db, "instance-a")

	a.tick()

	info, err := a.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !info.Held {
		t.Error("tick on an unowned lease should win it")
	}
	if info.Status != models.LeaseStatusConnected {
		t.Errorf("status after winning tick = %q, want connected", info.Status)
	}

	// Later ticks renew without touching the status.
	a.now = func() time.Time { return time.Now().Add(time.Second) }
	a.tick()
	info, err = a.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if info.Status != models.LeaseStatusConnected {
		t.Errorf("status after renewing tick = %q, want connected", info.Status)
	}
}

func TestRenew_OnlyOwnerExtends(t *testing.T) {
	db := setupTestDB(t)
	seedLeaseRow(t, db)
	a := newTestLease(db, "instance-a")
	b := newTestLease(db, "instance-b")

	if _, err := a.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	a.now = func() time.Time { return time.Now().Add(time.Second) }
	ok, err := a.Renew()
	if err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	if !ok {
		t.Error("owner renew should succeed")
	}

	ok, err = b.Renew()
	if err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	if ok {
		t.Error("non-owner renew must fail")
	}
	if b.Held() {
		t.Error("failed renew must clear the held flag")
	}
}

func TestForceTakeover_SeizesLiveLease(t *testing.T) {
	db := setupTestDB(t)
	seedLeaseRow(t, db)
	a := newTestLease(db, "instance-a")
	b := newTestLease(db, "instance-b")

	if _, err := a.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}

	info, err := b.ForceTakeover()
	if err != nil {
		t.Fatalf("ForceTakeover() error = %v", err)
	}
	if !info.Held || info.OwnerID != "instance-b" {
		t.Errorf("takeover should hand the lease to instance-b, got %+v", info)
	}
	if info.Status != models.LeaseStatusConflict {
		t.Errorf("status after takeover = %q, want %q", info.Status, models.LeaseStatusConflict)
	}

	// The previous holder discovers the loss on its next renew.
	ok, err := a.Renew()
	if err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	if ok || a.Held() {
		t.Error("previous holder must lose the lease after a takeover")
	}
}

func TestForceTakeover_NoRowIsHardError(t *testing.T) {
	db := setupTestDB(t)
	// No lease row seeded.
	b := newTestLease(db, "instance-b")

	_, err := b.ForceTakeover()
	if !errors.Is(err, ErrTakeoverNotPersisted) {
		t.Errorf("takeover with no row should fail with ErrTakeoverNotPersisted, got %v", err)
	}
	if b.Held() {
		t.Error("failed takeover must not set the held flag")
	}
}

func TestRelease(t *testing.T) {
	db := setupTestDB(t)
	seedLeaseRow(t, db)
	a := newTestLease(db, "instance-a")

	if _, err := a.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if err := a.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if a.Held() {
		t.Error("Held() should report false after release")
	}

	info, err := a.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if info.OwnerID != "" || info.Status != models.LeaseStatusDisconnected {
		t.Errorf("released lease should be unowned and disconnected, got %+v", info)
	}
}

func TestSetStatus_RequiresOwnership(t *testing.T) {
	db := setupTestDB(t)
	seedLeaseRow(t, db)
	a := newTestLease(db, "instance-a")
	b := newTestLease(db, "instance-b")

	if _, err := a.TryAcquire(); err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if err := a.SetStatus(models.LeaseStatusConnected); err != nil {
		t.Fatalf("holder SetStatus() error = %v", err)
	}
	if err := b.SetStatus(models.LeaseStatusConnected); err == nil {
		t.Error("non-holder SetStatus() must fail")
	}
}
