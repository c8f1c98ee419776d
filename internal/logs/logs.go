package logs

import (
	"os"
	"sync"

	"github.com/lbekk/stagemill/internal/ui"
)

var (
	initOnce sync.Once
	logger   *ui.Logger
)

func Init() {
	initOnce.Do(func() {
		logger = ui.New(ui.Options{
			Out:        os.Stdout,
			TailLines:  15,
			EnableTail: true,
			LogLevel:   ui.LogLevelWarn,
		})
	})
}

func L() *ui.Logger {
	Init()
	return logger
}

func SetVerbose(on bool) {
	if on {
		L().SetLogLevel(ui.LogLevelDebug)
	} else {
		L().SetLogLevel(ui.LogLevelWarn)
	}
}

// SetFullLogFile mirrors all log output, timestamped, into f. Ownership of f
// moves to the logger; Close releases it.
func SetFullLogFile(f *os.File) {
	sw := ui.NewSyncWriter(f, 0)
	L().SetFullLogWriter(ui.NewTimestampWriter(sw))
}

// Mute silences stdout logging until the returned func runs. Used by commands
// whose stdout is machine-readable.
func Mute() (restore func()) {
	return L().MuteStdout()
}

func Banner(title string) {
	L().Banner(title)
}

func Spacer() {
	L().Spacer()
}

func Infof(format string, args ...any) {
	L().Info(format, args...)
}

func InfofSilent(format string, args ...any) {
	L().InfoSilent(format, args...)
}

func Debugf(format string, args ...any) {
	L().Debug(format, args...)
}

func Warnf(format string, args ...any) {
	L().Warn(format, args...)
}

func Errorf(format string, args ...any) {
	L().Error(format, args...)
}

func NewTailBox(name string) ui.Tail {
	return L().NewTail(name)
}

type defaultSelectOption struct {
	Text string
	ID   string
}

func (so *defaultSelectOption) OptionLabel() string {
	return so.Text
}

func (so *defaultSelectOption) OptionID() string {
	return so.ID
}

func NewSelectOption(text, id string) ui.SelectOption {
	return &defaultSelectOption{Text: text, ID: id}
}

func PromptSelectOne(label string, options []ui.SelectOption) (ui.SelectOption, error) {
	return L().SelectOne(label, options)
}

func PromptConfirm(text string) (bool, error) {
	return L().Confirm(text)
}

// Close closes the underlying log file, if any.
func Close() error {
	if logger != nil {
		return logger.Close()
	}
	return nil
}
