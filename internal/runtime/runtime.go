// Package runtime holds per-invocation process state: the root context, the
// run ID, and the exit path shared by every command.
package runtime

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/logs"
	"github.com/lbekk/stagemill/internal/ui"
	"github.com/lbekk/stagemill/internal/utils"
)

type Runtime struct {
	runID string

	ctx        context.Context
	cancelFunc context.CancelFunc

	mu           sync.Mutex
	wg           sync.WaitGroup
	firstFailErr error

	shutdownTimeout time.Duration
}

type runtimeKey struct{}

func New() *Runtime {
	baseCtx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		runID:           newRunID(),
		cancelFunc:      cancel,
		shutdownTimeout: 5 * time.Second,
	}
	// one pointer rides the context so command handlers, and only they,
	// can pick it up without plumbing
	rt.ctx = context.WithValue(baseCtx, runtimeKey{}, rt)
	return rt
}

// newRunID names the run and its build log file. The random suffix keeps
// runs started within the same second apart.
func newRunID() string {
	id := strconv.FormatInt(time.Now().Unix(), 10)
	if suffix, err := utils.RandomHex(4); err == nil {
		id += "-" + suffix
	}
	return id
}

func FromContext(ctx context.Context) *Runtime {
	rt, _ := ctx.Value(runtimeKey{}).(*Runtime)
	return rt
}

func (rt *Runtime) Ctx() context.Context {
	return rt.ctx
}

func (rt *Runtime) RunID() string {
	return rt.runID
}

func (rt *Runtime) CancelCtx() {
	rt.cancelFunc()
}

// OpenBuildLog routes the full log mirror to the per-project build log file.
// Failures degrade to stdout-only logging.
func (rt *Runtime) OpenBuildLog(projectName string) {
	f, err := config.BuildLogOpen(projectName, rt.runID)
	if err != nil {
		logs.Warnf("can't open build log file: %v", err)
		return
	}
	sw := ui.NewSyncWriter(f, 200*time.Millisecond)
	logs.L().SetFullLogWriter(ui.NewTimestampWriter(sw))
	logs.InfofSilent("build log for run %s", rt.runID)
}

// GoNamed runs fn in a goroutine with panic recovery. A panic records the
// first error and cancels the root context; Wait returns it.
func (rt *Runtime) GoNamed(name string, fn func()) {
	if name == "" {
		name = "anonymous"
	}
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		logs.Debugf("%s goroutine start", name)
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic: %v\n%s", r, debug.Stack())
				rt.mu.Lock()
				if rt.firstFailErr == nil {
					rt.firstFailErr = err
					rt.cancelFunc()
				}
				rt.mu.Unlock()
			}
		}()

		fn()
		logs.Debugf("%s goroutine finish", name)
	}()
}

func (rt *Runtime) Wait() error {
	rt.wg.Wait()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.firstFailErr
}

// OnShutdown schedules fn to run, with a bounded context, once the root
// context is cancelled.
func (rt *Runtime) OnShutdown(fn func(ctx context.Context)) {
	rt.GoNamed("OnShutdown", func() {
		<-rt.ctx.Done()

		cleanupCtx, cancel := context.WithTimeout(context.Background(), rt.shutdownTimeout)
		defer cancel()

		fn(cleanupCtx)
	})
}

// Finalize handles both panic and normal exit. Call it in a defer at the top
// of main.
func (rt *Runtime) Finalize(appName, helpHint string, execErr *error) {
	if r := recover(); r != nil {
		fmt.Fprintf(os.Stderr, "%s panic: %v\n", appName, r)
		fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
		if helpHint != "" {
			fmt.Fprintln(os.Stderr, helpHint)
		}

		// cancel and wait so OnShutdown hooks run
		rt.CancelCtx()
		_ = rt.Wait()

		logs.Close()
		os.Exit(1)
	}

	rt.CancelCtx()
	waitErr := rt.Wait()

	if execErr != nil && *execErr != nil {
		logs.Errorf("%s error: %v", appName, *execErr)
		if helpHint != "" {
			fmt.Fprintln(os.Stderr, helpHint)
		}
	} else if waitErr != nil {
		logs.Errorf("%s fail reason: %v", appName, waitErr)
	}

	logs.Close()
}
