// Package uart models an NS16550-compatible serial port, a port of
// uart.rs's Uart<B, S> into Go: the const-generic base address and
// Uninit/Init phantom-typed states become a runtime base field and a
// state tag checked on entry to Init, Get and Put.
package uart

import (
	"fmt"
	"sync"
)

// Base is the UART's memory-mapped base address.
const Base uint64 = 0x1000_0000

// register offsets, matching uart_init's `ptr.add(n)` arithmetic.
const (
	RBR = 0 // receiver buffer (read), transmit holding (write)
	THR = 0
	IER = 1 // interrupt enable
	FCR = 2 // FIFO control
	LCR = 3 // line control
	LSR = 5 // line status
)

const (
	lsrDataReady   = 1 << 0
	lsrTHREmpty    = 1 << 5
	defaultLCR     = 0b11 // 8 data bits, no parity, 1 stop bit
	dlab           = 1 << 7
	defaultDivisor = 592
)

// state is the typestate tag: Uninit until Init runs, Init afterward.
// Get/Put panic if called before Init, matching the const-generic
// Uart<B, Uninit> type in the original not even exposing those methods.
type state int

const (
	uninit state = iota
	initialized
)

// UART is the serial port device. It has no real wire underneath it: Feed
// injects bytes as if typed at a terminal, and Listen registers a callback
// invoked for every byte Put writes out; tty.Console's feedUART and
// drainUART drive these two sides from a terminal.
type UART struct {
	mu    sync.Mutex
	state state

	lcr      byte
	divisor  uint16
	dlabLow  byte
	rx       []byte
	listener func(byte)
}

// New returns an uninitialized UART, matching Uart::<B, Uninit>::new.
func New() *UART {
	return &UART{}
}

// Init brings up the line-control and divisor registers, matching
// uart_init, and returns the receiver transitioned to the Init state.
// Init panics if called twice.
func (u *UART) Init() *UART {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != uninit {
		panic("uart: init: already initialized")
	}

	u.lcr = defaultLCR
	u.divisor = defaultDivisor
	u.state = initialized

	return u
}

func (u *UART) Name() string { return "uart" }

func (u *UART) assertInit() {
	if u.state != initialized {
		panic("uart: used before init")
	}
}

// Get dequeues the next received byte, matching uart.rs's Uart::get. The
// second return is false if nothing has been fed to the line yet.
func (u *UART) Get() (byte, bool) {
	u.assertInit()

	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.rx) == 0 {
		return 0, false
	}

	b := u.rx[0]
	u.rx = u.rx[1:]

	return b, true
}

// Put transmits a byte, matching uart.rs's Uart::put: it invokes the
// registered listener, if any, with the byte written.
func (u *UART) Put(b byte) {
	u.assertInit()

	u.mu.Lock()
	listener := u.listener
	u.mu.Unlock()

	if listener != nil {
		listener(b)
	}
}

// Feed injects a byte into the receive queue, as if typed at a terminal.
func (u *UART) Feed(b byte) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.rx = append(u.rx, b)
}

// Listen registers fn to be called for every byte Put transmits.
func (u *UART) Listen(fn func(byte)) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.listener = fn
}

// Pending reports whether a receive interrupt should be raised.
func (u *UART) Pending() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return len(u.rx) > 0
}

func (u *UART) lineStatus() byte {
	var s byte = lsrTHREmpty

	if len(u.rx) > 0 {
		s |= lsrDataReady
	}

	return s
}

// Read serves MMIO loads against the register layout uart_init configures.
func (u *UART) Read(off uint64, size int) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch off {
	case RBR:
		if u.lcr&dlab != 0 {
			return uint64(u.dlabLow), nil
		}

		if len(u.rx) == 0 {
			return 0, nil
		}

		b := u.rx[0]
		u.rx = u.rx[1:]

		return uint64(b), nil
	case LCR:
		return uint64(u.lcr), nil
	case LSR:
		return uint64(u.lineStatus()), nil
	default:
		return 0, fmt.Errorf("uart: read: unmapped offset %#x", off)
	}
}

// Write serves MMIO stores, including the DLAB-gated divisor-latch dance
// uart_init performs before restoring LCR.
func (u *UART) Write(off uint64, size int, val uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch off {
	case THR:
		if u.lcr&dlab != 0 {
			u.dlabLow = byte(val)
			return nil
		}

		listener := u.listener
		u.mu.Unlock()

		if listener != nil {
			listener(byte(val))
		}

		u.mu.Lock()

		return nil
	case LCR:
		u.lcr = byte(val)
		return nil
	case IER, FCR:
		return nil
	default:
		return fmt.Errorf("uart: write: unmapped offset %#x", off)
	}
}
