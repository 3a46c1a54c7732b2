package database

import "testing"

func TestUpdateStatusReportsRecovery(t *testing.T) {
	UpdateStatus(true, "r1")
	if UpdateStatus(true, "r1") {
		t.Fatal("healthy to healthy is not a recovery")
	}

	UpdateStatus(false, "")
	if IsRedisHealthy() {
		t.Fatal("expected unhealthy")
	}
	// 不健康时不会覆盖上一次的 run_id
	if GetLastKnownRunID() != "r1" {
		t.Fatalf("expected run id r1 to be kept, got %q", GetLastKnownRunID())
	}

	if !UpdateStatus(true, "r2") {
		t.Fatal("expected recovery to be reported")
	}
	if GetLastKnownRunID() != "r2" {
		t.Fatalf("expected run id r2, got %q", GetLastKnownRunID())
	}
}
