// Package proc holds what the ffmpeg and ffprobe wrappers share: command
// construction and a bounded stderr tail.
package proc

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

const (
	MaxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	// WaitDelay bounds how long Wait blocks on I/O after the process is killed,
	// e.g. when a child it spawned still holds stderr open.
	WaitDelay = 5 * time.Second
)

// Command is exec.CommandContext with WaitDelay set, so a killed process
// always returns.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = WaitDelay
	return cmd
}

// TailBuffer is an io.Writer that keeps only the last limit bytes written.
type TailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func NewTailBuffer(limit int) *TailBuffer {
	return &TailBuffer{limit: limit}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		b := t.buf.Bytes()
		tail := append([]byte(nil), b[len(b)-t.limit:]...)
		t.buf.Reset()
		t.buf.Write(tail)
	}
	return n, nil
}

func (t *TailBuffer) String() string {
	return t.buf.String()
}

// Truncate keeps the last maxLen bytes of s, marking the cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}
