package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	frameMu  sync.Mutex
	frameLog *log.Logger
)

// SetFrameWriter routes raw gateway frames to w. A nil writer disables the dump.
func SetFrameWriter(w io.Writer) {
	frameMu.Lock()
	defer frameMu.Unlock()
	if w == nil {
		frameLog = nil
		return
	}
	frameLog = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

// FrameDumpEnabled reports whether a frame writer is installed.
func FrameDumpEnabled() bool {
	frameMu.Lock()
	defer frameMu.Unlock()
	return frameLog != nil
}

// LogFrame records one frame; direction is "in" or "out".
func LogFrame(direction string, payload []byte) {
	frameMu.Lock()
	l := frameLog
	frameMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[FRAME][")
	b.WriteString(direction)
	b.WriteString("] ")
	b.WriteString(strings.TrimSpace(string(payload)))
	l.Print(b.String())
}
