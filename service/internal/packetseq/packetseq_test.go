package packetseq

import (
	"crypto/rand"
	"errors"
	"slices"
	"testing"
)

func TestSenderReceiver(t *testing.T) {
	var (
		s Sender
		r Receiver
		b = make([]byte, 1024)
	)

	rand.Read(b)

	// Stamp ID 0.
	s.Stamp(b)

	b0 := slices.Clone(b)

	if id, ok := ID(b0); !ok || id != 0 {
		t.Errorf("ID(b0) = %d, %v, want 0, true", id, ok)
	}

	// Validate ID 0.
	if err := r.Validate(b); err != nil {
		t.Errorf("r.Validate(0) = %v, want nil", err)
	}

	// Bump ID to windowSize - 1.
	s.pid += windowSize - 2

	s.Stamp(b)
	if err := r.Validate(b); err != nil {
		t.Errorf("r.Validate(%d) = %v, want nil", windowSize-1, err)
	}

	// ID 0 is still in the window.
	if err := r.Validate(b0); !errors.Is(err, ErrPacketDuplicate) {
		t.Errorf("r.Validate(0) = %v, want ErrPacketDuplicate", err)
	}

	// Stamp ID windowSize, which pushes ID 0 out of the window.
	s.Stamp(b)
	if err := r.Validate(b); err != nil {
		t.Errorf("r.Validate(%d) = %v, want nil", windowSize, err)
	}

	if err := r.Validate(b0); !errors.Is(err, ErrPacketBehindWindow) {
		t.Errorf("r.Validate(0) = %v, want ErrPacketBehindWindow", err)
	}

	// Corrupt the payload.
	b0[0] ^= 0xFF
	if err := r.Validate(b0); !errors.Is(err, ErrPacketChecksumMismatch) {
		t.Errorf("r.Validate(b0) = %v, want ErrPacketChecksumMismatch", err)
	}

	if got, want := s.Count(), uint64(windowSize+1); got != want {
		t.Errorf("s.Count() = %d, want %d", got, want)
	}
	if got := r.LastID(); got != windowSize {
		t.Errorf("r.LastID() = %d, want %d", got, windowSize)
	}
	if got := r.Count(); got != 3 {
		t.Errorf("r.Count() = %d, want 3", got)
	}
}

func TestReceiverOutOfOrder(t *testing.T) {
	var (
		s    Sender
		r    Receiver
		pkts = make([][]byte, 8)
	)

	for i := range pkts {
		pkts[i] = make([]byte, MinPacketSize+i)
		s.Stamp(pkts[i])
	}

	for _, i := range []int{3, 0, 7, 1, 2, 6, 5, 4} {
		if err := r.Validate(pkts[i]); err != nil {
			t.Errorf("r.Validate(%d) = %v, want nil", i, err)
		}
	}

	if err := r.Validate(pkts[5]); !errors.Is(err, ErrPacketDuplicate) {
		t.Errorf("r.Validate(5) = %v, want ErrPacketDuplicate", err)
	}
	if got := r.Count(); got != uint64(len(pkts)) {
		t.Errorf("r.Count() = %d, want %d", got, len(pkts))
	}
	if got := r.LastID(); got != 7 {
		t.Errorf("r.LastID() = %d, want 7", got)
	}
}

func TestSenderStampPacketTooSmall(t *testing.T) {
	defer func() { _ = recover() }()
	var s Sender
	b := make([]byte, MinPacketSize-1)
	s.Stamp(b)
	t.Errorf("s.Stamp(b) did not panic")
}

func TestReceiverValidatePacketTooSmall(t *testing.T) {
	var r Receiver
	b := make([]byte, MinPacketSize-1)
	if err := r.Validate(b); !errors.Is(err, ErrPacketTooSmall) {
		t.Errorf("r.Validate(b) = %v, want ErrPacketTooSmall", err)
	}
	if _, ok := ID(b); ok {
		t.Errorf("ID(b) ok = true, want false")
	}
}
