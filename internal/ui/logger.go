package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// syncer is implemented by *os.File and *SyncWriter.
type syncer interface {
	Sync() error
}

type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelDebug
)

// Options configures the Logger.
type Options struct {
	// Out is where user-facing logs go, normally os.Stdout.
	Out io.Writer

	// FullLogWriter, if non-nil, receives every log and tail line in plain
	// text regardless of level.
	FullLogWriter io.Writer

	// TailLines is how many lines the live tail box keeps. <= 0 means 5.
	TailLines int

	// EnableTail controls whether the live tail box is rendered. When false,
	// tail lines print as plain output.
	EnableTail bool

	// LogLevel caps what reaches stdout. Warn and above always reach the
	// full log writer.
	LogLevel LogLevel
}

// Logger is the stdout logger plus live tail manager.
type Logger struct {
	out   io.Writer
	full  io.Writer
	mu    sync.Mutex
	style styles

	logLevel LogLevel

	// lines written before a full log writer exists; flushed when set.
	fullLogBuffer []string

	tail       *tailState
	tailLines  int
	enableTail bool
}

type styles struct {
	spacer    lipgloss.Style
	logInfo   lipgloss.Style
	logWarn   lipgloss.Style
	logError  lipgloss.Style
	banner    lipgloss.Style
	tailBox   lipgloss.Style
	tailTitle lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		spacer:    lipgloss.NewStyle(),
		logInfo:   lipgloss.NewStyle(),
		logWarn:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		logError:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		banner:    lipgloss.NewStyle().Bold(true).Border(lipgloss.NormalBorder()).Padding(0, 1).Margin(1, 0),
		tailBox:   lipgloss.NewStyle().Bold(true).Border(lipgloss.NormalBorder()).Padding(0, 1).Margin(1, 0),
		tailTitle: lipgloss.NewStyle().Bold(true),
	}
}

func New(opts Options) *Logger {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.TailLines <= 0 {
		opts.TailLines = 5
	}

	return &Logger{
		out:        opts.Out,
		full:       opts.FullLogWriter,
		style:      defaultStyles(),
		tailLines:  opts.TailLines,
		enableTail: opts.EnableTail,
		logLevel:   opts.LogLevel,
	}
}

// MuteStdout silences user-facing output until restore is called. Commands
// that print machine-readable output to stdout use this.
func (l *Logger) MuteStdout() (restore func()) {
	l.out = io.Discard
	return func() {
		l.out = os.Stdout
	}
}

func (l *Logger) SetLogLevel(level LogLevel) {
	l.logLevel = level
}

// SetFullLogWriter installs the plain-text mirror. Lines logged before this
// call were buffered and are flushed now. A second call is ignored.
func (l *Logger) SetFullLogWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.full != nil {
		ts := time.Now().Format("2006-01-02T15:04:05.000")
		msg := fmt.Sprintf("[%s] [ERR ] full log writer already set, ignoring\n", ts)
		fmt.Fprint(l.out, l.style.logError.Render(msg))
		return
	}

	l.full = w
	for _, line := range l.fullLogBuffer {
		io.WriteString(l.full, line)
	}
	l.fullLogBuffer = nil
}

// writeFullLogLocked requires l.mu held.
func (l *Logger) writeFullLogLocked(line string) {
	if l.full != nil {
		io.WriteString(l.full, line)
	} else {
		l.fullLogBuffer = append(l.fullLogBuffer, line)
	}
}

// Close finalizes any active tail and closes the full log if it is a Closer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tail != nil && !l.tail.closed {
		l.finalizeTailLocked()
	}

	if c, ok := l.full.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (l *Logger) Spacer() {
	l.printLog(false, "", l.style.spacer, "")
}

func (l *Logger) Error(format string, args ...any) {
	l.printLog(false, "ERR ", l.style.logError, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	silent := l.logLevel < LogLevelInfo
	l.printLog(silent, "INFO", l.style.logInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	silent := l.logLevel < LogLevelWarn
	l.printLog(silent, "WARN", l.style.logWarn, format, args...)
}

// InfoSilent logs to the full log only.
func (l *Logger) InfoSilent(format string, args ...any) {
	l.printLog(true, "INFO", l.style.logInfo, format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	if l.logLevel >= LogLevelDebug {
		l.printLog(false, "DEBG", l.style.logInfo, format, args...)
	}
}

// printLog clears and redraws the tail box around a log line.
func (l *Logger) printLog(silent bool, level string, style lipgloss.Style, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("2006-01-02T15:04:05.000")

	// Full log gets no timestamp, the TimestampWriter at the destination
	// adds one.
	logLine := msg + "\n"
	if level != "" {
		logLine = fmt.Sprintf("[%s] %s\n", level, msg)
	}

	stdoutLine := fmt.Sprintf("[%s] %s", ts, msg)
	if level != "" {
		stdoutLine = fmt.Sprintf("[%s] [%s] %s", ts, level, msg)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.enableTail && l.tail != nil && !l.tail.closed && l.tail.lastBoxHeight > 0 {
		l.clearTailBoxLocked()
	}

	l.writeFullLogLocked(logLine)

	if !silent {
		fmt.Fprintln(l.out, style.Render(stdoutLine))

		if l.enableTail && l.tail != nil && !l.tail.closed && len(l.tail.buf) > 0 {
			l.drawTailBoxLocked()
		}
	}
}

// Banner prints a boxed title.
func (l *Logger) Banner(title string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.enableTail && l.tail != nil && !l.tail.closed && l.tail.lastBoxHeight > 0 {
		l.clearTailBoxLocked()
	}

	l.writeFullLogLocked(fmt.Sprintf("\n===== %s =====\n\n", title))
	if s, ok := l.full.(syncer); ok {
		s.Sync()
	}

	fmt.Fprintln(l.out, l.style.banner.Render(title))

	if l.enableTail && l.tail != nil && !l.tail.closed && len(l.tail.buf) > 0 {
		l.drawTailBoxLocked()
	}
}
