// Package verify probes a built image for the failure modes a two-stage
// transplant can introduce: binaries that only existed in the builder,
// packages whose compiled parts got left behind, and interpreter mismatches
// between the stages.
package verify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/dockerclient"
	"github.com/lbekk/stagemill/internal/logs"
	"github.com/lbekk/stagemill/internal/pipeline"
	"github.com/lbekk/stagemill/internal/pyversion"
	"github.com/lbekk/stagemill/internal/reqfile"
	"github.com/lbekk/stagemill/internal/sysdeps"
)

//go:generate mockgen -destination=mocks/engine.go -package=mocks . Engine,Server

// ErrVerify marks a report with at least one failed check.
var ErrVerify = errors.New("image verification failed")

// Engine is the slice of the container engine the verifier uses.
type Engine interface {
	RunCommand(ctx context.Context, image string, argv []string) (dockerclient.CommandResult, error)
	StartServer(ctx context.Context, image string, containerPort int) (Server, error)
}

// Server is a started container under probe.
type Server interface {
	Addr() string
	Logs(ctx context.Context) (string, error)
	Running(ctx context.Context) bool
	Stop(ctx context.Context)
}

type Check struct {
	Name   string
	OK     bool
	Detail string
}

type Report struct {
	Checks []Check
}

func (r *Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

func (r *Report) add(name string, ok bool, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, OK: ok, Detail: detail})
}

// Options tune the startup probe.
type Options struct {
	// StartupTimeout bounds how long the service gets to accept a TCP
	// connection. Zero means 30 seconds.
	StartupTimeout time.Duration

	// SkipStartup disables the live startup probe, keeping only the static
	// command probes.
	SkipStartup bool
}

type Verifier struct {
	engine Engine
	opts   Options
}

func New(engine Engine, opts Options) *Verifier {
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	return &Verifier{engine: engine, opts: opts}
}

// Run probes the image and returns the report. The returned error wraps
// ErrVerify when any check failed; probe transport errors surface as-is.
func (v *Verifier) Run(ctx context.Context, cfg *config.Config, summary *pipeline.Summary, image string) (*Report, error) {
	report := &Report{}

	if err := v.checkBinaries(ctx, image, summary.RuntimeBinaries, report); err != nil {
		return nil, err
	}
	if err := v.checkImports(ctx, image, summary.Requirements, summary.Transplant, report); err != nil {
		return nil, err
	}
	if err := v.checkPythonSeries(ctx, image, cfg.Python, report); err != nil {
		return nil, err
	}
	if !v.opts.SkipStartup {
		if err := v.checkStartup(ctx, image, summary.Port, report); err != nil {
			return nil, err
		}
	}

	if failed := report.Failed(); len(failed) > 0 {
		return report, fmt.Errorf("%w: %d of %d checks failed", ErrVerify, len(failed), len(report.Checks))
	}
	return report, nil
}

// checkBinaries confirms every runtime binary the native bindings rely on is
// on PATH inside the final image.
func (v *Verifier) checkBinaries(ctx context.Context, image string, binaries []string, report *Report) error {
	for _, bin := range binaries {
		res, err := v.engine.RunCommand(ctx, image, []string{"/bin/sh", "-c", "command -v " + bin})
		if err != nil {
			return fmt.Errorf("binary probe %s: %w", bin, err)
		}
		name := "binary " + bin
		if res.ExitCode == 0 {
			report.add(name, true, strings.TrimSpace(res.Stdout))
		} else {
			report.add(name, false, bin+" not found on PATH; its system package may be missing from the runtime scope")
		}
	}
	return nil
}

// checkImports imports each installed distribution's top-level module. A
// transplant that missed compiled extension files fails here, not in
// production. Failures under the narrow transplant carry advice to retry
// with the prefix mode, which also moves files installed outside
// site-packages.
func (v *Verifier) checkImports(ctx context.Context, image string, reqs []reqfile.Requirement, mode config.Transplant, report *Report) error {
	for _, req := range reqs {
		mod := sysdeps.ImportName(req.Canonical)
		res, err := v.engine.RunCommand(ctx, image, []string{"python", "-c", "import " + mod})
		if err != nil {
			return fmt.Errorf("import probe %s: %w", mod, err)
		}
		name := "import " + mod
		if res.ExitCode == 0 {
			report.add(name, true, "")
			continue
		}

		detail := lastLine(res.Stderr)
		if mode != config.TransplantPrefix {
			detail += `; retry with transplant = "prefix" in case the package installs outside site-packages`
		}
		report.add(name, false, detail)
	}
	return nil
}

// checkPythonSeries compares the interpreter the image actually runs against
// the series the site-packages transplant was built for.
func (v *Verifier) checkPythonSeries(ctx context.Context, image string, want pyversion.Version, report *Report) error {
	res, err := v.engine.RunCommand(ctx, image, []string{"python", "-V"})
	if err != nil {
		return fmt.Errorf("python version probe: %w", err)
	}

	// python2 printed the version on stderr, tolerate both
	raw := strings.TrimSpace(res.Stdout + res.Stderr)
	got, ok := parsePythonVersion(raw)
	if !ok {
		report.add("python series", false, fmt.Sprintf("cannot parse interpreter version from %q", raw))
		return nil
	}

	if got == want.Series() {
		report.add("python series", true, raw)
	} else {
		report.add("python series", false,
			fmt.Sprintf("interpreter is %s but packages were installed for %s", got, want.Series()))
	}
	return nil
}

// checkStartup boots the image and waits for the service port to accept a
// connection, then scans the startup log for the classic transplant failures.
func (v *Verifier) checkStartup(ctx context.Context, image string, port int, report *Report) error {
	srv, err := v.engine.StartServer(ctx, image, port)
	if err != nil {
		return fmt.Errorf("startup probe: %w", err)
	}
	defer srv.Stop(context.Background())

	deadline := time.Now().Add(v.opts.StartupTimeout)
	accepting := false
	for time.Now().Before(deadline) {
		if conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second); err == nil {
			conn.Close()
			accepting = true
			break
		}
		if !srv.Running(ctx) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}

	logText, err := srv.Logs(ctx)
	if err != nil {
		logs.Warnf("startup probe: reading logs: %v", err)
		logText = ""
	}

	if bad, snippet := scanStartupLog(logText); bad {
		report.add("startup", false, snippet)
		return nil
	}

	if !accepting {
		report.add("startup", false,
			fmt.Sprintf("service did not accept connections on port %d within %s", port, v.opts.StartupTimeout))
		return nil
	}

	// the port accepting is necessary but not sufficient: ask the health
	// route to prove the app answers HTTP
	status, httpErr := v.probeHealth(ctx, srv.Addr())
	switch {
	case httpErr != nil:
		report.add("startup", false,
			fmt.Sprintf("port %d accepts connections but GET / failed: %v", port, httpErr))
	case status >= http.StatusInternalServerError:
		report.add("startup", false, fmt.Sprintf("health route answered %d", status))
	default:
		report.add("startup", true, fmt.Sprintf("health route answered %d on port %d", status, port))
	}
	return nil
}

func (v *Verifier) probeHealth(ctx context.Context, addr string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+addr+"/", nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// failure markers a broken transplant leaves in startup logs
var startupFailureMarkers = []string{
	"ModuleNotFoundError",
	"ImportError",
	"executable file not found",
	"No such file or directory",
	"error while loading shared libraries",
}

func scanStartupLog(logText string) (bool, string) {
	for _, line := range strings.Split(logText, "\n") {
		for _, marker := range startupFailureMarkers {
			if strings.Contains(line, marker) {
				return true, strings.TrimSpace(line)
			}
		}
	}
	return false, ""
}

func parsePythonVersion(raw string) (series string, ok bool) {
	fields := strings.Fields(raw)
	if len(fields) < 2 || fields[0] != "Python" {
		return "", false
	}
	parts := strings.Split(fields[1], ".")
	if len(parts) < 2 {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
