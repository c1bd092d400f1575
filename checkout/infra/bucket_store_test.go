package infra

import (
	"context"
	"testing"
	"time"

	"checkout-gate/checkout/domain"
)

func TestBucketStore_LowBurstRejectsSecondImmediateAllow(t *testing.T) {
	s := NewBucketStore(0.02, 1)

	if ok, _ := s.Allow("k"); !ok {
		t.Fatalf("expected first Allow to be true")
	}
	ok, wait := s.Allow("k")
	if ok {
		t.Fatalf("expected second immediate Allow to be false (burst=1)")
	}
	if wait <= 0 {
		t.Fatalf("expected positive wait, got %s", wait)
	}
}

func TestBucketStore_KeysAreIndependent(t *testing.T) {
	s := NewBucketStore(0.02, 1)

	if ok, _ := s.Allow("a"); !ok {
		t.Fatalf("expected a to be allowed")
	}
	if ok, _ := s.Allow("b"); !ok {
		t.Fatalf("expected b to be allowed")
	}
}

func TestBucketStore_CleanupRemovesIdleEntries(t *testing.T) {
	s := NewBucketStore(10, 1, WithIdleTTL(2*time.Millisecond))

	s.Allow("k")
	time.Sleep(4 * time.Millisecond)

	if n := s.Cleanup(); n != 1 {
		t.Fatalf("expected 1 entry removed, got %d", n)
	}
	if s.Len() != 0 {
		t.Fatalf("expected no entries after cleanup, got %d", s.Len())
	}
}

func TestMemoryStatsStore_CountsByReason(t *testing.T) {
	s := NewMemoryStatsStore()
	ctx := context.Background()

	_ = s.Record(ctx, domain.GateEvent{Allowed: true})
	_ = s.Record(ctx, domain.GateEvent{Allowed: true, FailOpen: true})
	_ = s.Record(ctx, domain.GateEvent{Allowed: false, Reason: domain.ReasonCardLimit})
	_ = s.Record(ctx, domain.GateEvent{Allowed: false, Reason: domain.ReasonCardLimit})
	_ = s.Record(ctx, domain.GateEvent{Allowed: false, Reason: domain.ReasonIPLimit})

	total := s.Total()
	if total.Allowed != 2 || total.Denied != 3 || total.FailOpen != 1 {
		t.Fatalf("unexpected totals: %+v", total)
	}
	by := s.ByReason()
	if by[domain.ReasonCardLimit] != 2 || by[domain.ReasonIPLimit] != 1 {
		t.Fatalf("unexpected by-reason counts: %+v", by)
	}
}
