package ui

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"unsafe"
)

type tailState struct {
	name          string
	buf           []string
	lastBoxHeight int
	closed        bool
}

type tailHandle struct {
	ui         *Logger
	iowritebuf []byte
}

// Tail is a handle for streaming output into a live tail box, typically the
// engine's build progress.
type Tail interface {
	Write([]byte) (int, error)
	Println(msg string)
	Printf(msg string, args ...any)
	Close()
}

// NewTail starts a new tail stream. An unclosed previous tail is finalized
// into a static box first.
func (l *Logger) NewTail(name string) Tail {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tail != nil && !l.tail.closed {
		l.finalizeTailLocked()
	}

	l.tail = &tailState{
		name: name,
		buf:  make([]string, 0, l.tailLines),
	}

	if l.full != nil {
		fmt.Fprintf(l.full, "[Tail %s] start\n", name)
	}

	return &tailHandle{ui: l}
}

func (t *tailHandle) Write(p []byte) (int, error) {
	l := t.ui
	l.mu.Lock()
	defer l.mu.Unlock()

	t.iowritebuf = append(t.iowritebuf, p...)

	for {
		i := bytes.IndexByte(t.iowritebuf, '\n')
		if i == -1 {
			break
		}

		line := t.iowritebuf[:i]
		t.iowritebuf = t.iowritebuf[i+1:]

		// trim CR before LF, docker progress lines carry them
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}

		t.printLocked(string(line))
	}

	return len(p), nil
}

func (t *tailHandle) Printf(msg string, args ...any) {
	t.Println(fmt.Sprintf(msg, args...))
}

func (t *tailHandle) Println(msg string) {
	l := t.ui
	l.mu.Lock()
	defer l.mu.Unlock()

	t.printLocked(msg)
}

func terminalWidth() int {
	ws := struct {
		Row    uint16
		Col    uint16
		Xpixel uint16
		Ypixel uint16
	}{}

	_, _, err := syscall.Syscall(
		syscall.SYS_IOCTL,
		os.Stdout.Fd(),
		uintptr(syscall.TIOCGWINSZ),
		uintptr(unsafe.Pointer(&ws)),
	)
	if err == 0 && ws.Col > 0 {
		return int(ws.Col)
	}

	return 120
}

// printLocked requires l.mu held.
func (t *tailHandle) printLocked(msg string) {
	l := t.ui

	// pad or truncate to a fixed width so redraws fully overwrite
	display := msg
	widthLimit := terminalWidth() - 20
	if widthLimit < 20 {
		widthLimit = 20
	}
	if len(msg) > widthLimit {
		const marker = "... [truncated]"
		display = msg[:widthLimit-len(marker)] + marker
	} else {
		display = msg + strings.Repeat(" ", widthLimit-len(msg))
	}

	if l.tail == nil || l.tail.closed {
		if l.full != nil {
			fmt.Fprintf(l.full, "[TAIL] %s\n", msg)
		}
		fmt.Fprintln(l.out, display)
		return
	}

	l.tail.buf = append(l.tail.buf, display)
	if len(l.tail.buf) > l.tailLines {
		l.tail.buf = l.tail.buf[len(l.tail.buf)-l.tailLines:]
	}

	// full log gets every tail line
	if l.full != nil {
		fmt.Fprintf(l.full, "[TAIL %s] %s\n", l.tail.name, msg)
	}

	if !l.enableTail {
		fmt.Fprintln(l.out, msg)
		return
	}

	if l.tail.lastBoxHeight > 0 {
		l.clearTailBoxLocked()
	}

	l.drawTailBoxLocked()
}

func (t *tailHandle) Close() {
	l := t.ui
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tail == nil || l.tail.closed {
		return
	}
	l.finalizeTailLocked()
}

// TailWriter returns a writer that feeds a new Tail line by line.
func (l *Logger) TailWriter(name string) io.WriteCloser {
	tail := l.NewTail(name)
	pr, pw := io.Pipe()

	go func() {
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			tail.Println(scanner.Text())
		}
		_ = pr.Close()
		tail.Close()
	}()

	return pw
}

func renderTailBox(title string, lines []string, s styles) string {
	if title == "" {
		title = "tail"
	}
	inner := s.tailTitle.Render(title)
	if len(lines) > 0 {
		inner = inner + "\n" + strings.Join(lines, "\n")
	}
	return s.tailBox.Render(inner)
}

// clearTailBoxLocked requires l.mu held.
func (l *Logger) clearTailBoxLocked() {
	if l.tail == nil || l.tail.lastBoxHeight <= 0 {
		return
	}
	h := l.tail.lastBoxHeight

	fmt.Fprintf(l.out, "\x1b[%dF", h)
	for range h {
		fmt.Fprint(l.out, "\x1b[2K\r\n")
	}
	fmt.Fprintf(l.out, "\x1b[%dF", h)

	l.tail.lastBoxHeight = 0
}

// drawTailBoxLocked requires l.mu held.
func (l *Logger) drawTailBoxLocked() {
	if l.tail == nil || len(l.tail.buf) == 0 {
		return
	}
	box := renderTailBox(l.tail.name, l.tail.buf, l.style)

	height := strings.Count(box, "\n") + 1
	fmt.Fprint(l.out, box+"\n")
	l.tail.lastBoxHeight = height
}

// finalizeTailLocked clears the live box, prints a static snapshot, and marks
// the tail closed. Requires l.mu held.
func (l *Logger) finalizeTailLocked() {
	if l.tail == nil || l.tail.closed {
		return
	}

	if l.enableTail && l.tail.lastBoxHeight > 0 {
		l.clearTailBoxLocked()
	}

	if len(l.tail.buf) > 0 {
		box := renderTailBox(l.tail.name, l.tail.buf, l.style)
		fmt.Fprint(l.out, box+"\n")

		if l.full != nil {
			fmt.Fprintf(l.full, "=== tail %s ===\n", l.tail.name)
			for _, line := range l.tail.buf {
				fmt.Fprintln(l.full, strings.TrimRight(line, " "))
			}
			fmt.Fprintln(l.full)
		}
	}

	if l.full != nil {
		fmt.Fprintf(l.full, "[Tail %s] end\n", l.tail.name)
	}

	l.tail.closed = true
	l.tail = nil
}
