package uart

import "testing"

func TestGetPanicsBeforeInit(t *testing.T) {
	u := New()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic calling Get before Init")
		}
	}()

	u.Get()
}

func TestFeedAndGetRoundTrip(t *testing.T) {
	u := New().Init()

	u.Feed('a')
	u.Feed('b')

	b, ok := u.Get()
	if !ok || b != 'a' {
		t.Fatalf("got (%v,%v), want ('a',true)", b, ok)
	}

	b, ok = u.Get()
	if !ok || b != 'b' {
		t.Fatalf("got (%v,%v), want ('b',true)", b, ok)
	}

	if _, ok := u.Get(); ok {
		t.Fatal("expected queue to be drained")
	}
}

func TestPutInvokesListener(t *testing.T) {
	u := New().Init()

	var got byte
	u.Listen(func(b byte) { got = b })

	u.Put('z')

	if got != 'z' {
		t.Fatalf("listener got %v, want 'z'", got)
	}
}

func TestMMIOWriteInvokesListener(t *testing.T) {
	u := New().Init()

	var got byte
	u.Listen(func(b byte) { got = b })

	if err := u.Write(THR, 1, uint64('q')); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got != 'q' {
		t.Fatalf("listener got %v, want 'q'", got)
	}
}

func TestLineStatusReportsDataReady(t *testing.T) {
	u := New().Init()

	lsr, err := u.Read(LSR, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if lsr&lsrDataReady != 0 {
		t.Fatal("expected no data ready before Feed")
	}

	u.Feed('x')

	lsr, err = u.Read(LSR, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if lsr&lsrDataReady == 0 {
		t.Fatal("expected data ready after Feed")
	}
}
