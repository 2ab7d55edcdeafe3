package clint

import "testing"

func TestArmNextSchedulesFutureInterrupt(t *testing.T) {
	c := New()
	c.Tick(5)
	c.ArmNext()

	if c.Pending() {
		t.Fatal("expected no pending interrupt immediately after arming")
	}

	c.Tick(DefaultInterval)

	if !c.Pending() {
		t.Fatal("expected a pending interrupt once mtime reaches mtimecmp")
	}
}

func TestMMIORoundTrip(t *testing.T) {
	c := New()

	if err := c.Write(MTime, 8, 42); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := c.Read(MTime, 8)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}
