package proc

import (
	"context"
	"testing"
)

func TestTailBuffer(t *testing.T) {
	tb := NewTailBuffer(10)

	n, err := tb.Write([]byte("0123456789abcdef"))
	if err != nil || n != 16 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if tb.String() != "6789abcdef" {
		t.Errorf("buffer = %q, want last 10 bytes", tb.String())
	}
	tb.Write([]byte("XY"))
	if tb.String() != "89abcdefXY" {
		t.Errorf("buffer = %q after second write", tb.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() = %q", got)
	}
	if got := Truncate("0123456789", 4); got != "...6789" {
		t.Errorf("Truncate() = %q", got)
	}
}

func TestCommand_SetsWaitDelay(t *testing.T) {
	cmd := Command(context.Background(), "ffmpeg", "-version")
	if cmd.WaitDelay != WaitDelay {
		t.Errorf("WaitDelay = %v, want %v", cmd.WaitDelay, WaitDelay)
	}
}
