package verify_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/dockerclient"
	"github.com/lbekk/stagemill/internal/pipeline"
	"github.com/lbekk/stagemill/internal/reqfile"
	"github.com/lbekk/stagemill/internal/verify"
	"github.com/lbekk/stagemill/internal/verify/mocks"
)

const image = "stagemill/docproc:abcd"

func testSummary(t *testing.T) (*config.Config, *pipeline.Summary) {
	t.Helper()

	reqs, err := reqfile.Parse(strings.NewReader("pytesseract==0.3.10\npillow==10.3.0\n"))
	if err != nil {
		t.Fatalf("parse requirements: %v", err)
	}

	cfg := config.Default(t.TempDir())
	return cfg, &pipeline.Summary{
		Requirements:    reqs,
		RuntimeBinaries: []string{"tesseract"},
		Port:            cfg.Port,
	}
}

func expectStaticProbes(engine *mocks.MockEngine, pythonOut string) {
	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"/bin/sh", "-c", "command -v tesseract"}).
		Return(dockerclient.CommandResult{ExitCode: 0, Stdout: "/usr/bin/tesseract\n"}, nil)
	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"python", "-c", "import pytesseract"}).
		Return(dockerclient.CommandResult{ExitCode: 0}, nil)
	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"python", "-c", "import PIL"}).
		Return(dockerclient.CommandResult{ExitCode: 0}, nil)
	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"python", "-V"}).
		Return(dockerclient.CommandResult{ExitCode: 0, Stdout: pythonOut}, nil)
}

func TestRunAllChecksPass(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	cfg, summary := testSummary(t)

	expectStaticProbes(engine, "Python 3.11.9\n")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	srv := mocks.NewMockServer(ctrl)
	srv.EXPECT().Addr().Return(strings.TrimPrefix(ts.URL, "http://")).AnyTimes()
	srv.EXPECT().Running(gomock.Any()).Return(true).AnyTimes()
	srv.EXPECT().Logs(gomock.Any()).Return("INFO: Uvicorn running\n", nil)
	srv.EXPECT().Stop(gomock.Any())
	engine.EXPECT().StartServer(gomock.Any(), image, summary.Port).Return(srv, nil)

	report, err := verify.New(engine, verify.Options{StartupTimeout: 5 * time.Second}).
		Run(context.Background(), cfg, summary, image)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Failed()) != 0 {
		t.Fatalf("unexpected failures: %+v", report.Failed())
	}
	if len(report.Checks) != 5 {
		t.Fatalf("got %d checks, want 5", len(report.Checks))
	}
	startup := report.Checks[4]
	if !strings.Contains(startup.Detail, "health route answered 200") {
		t.Fatalf("startup detail %q missing health route result", startup.Detail)
	}
}

func TestRunStartupHealthRouteBroken(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	cfg, summary := testSummary(t)

	expectStaticProbes(engine, "Python 3.11.9\n")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	srv := mocks.NewMockServer(ctrl)
	srv.EXPECT().Addr().Return(strings.TrimPrefix(ts.URL, "http://")).AnyTimes()
	srv.EXPECT().Running(gomock.Any()).Return(true).AnyTimes()
	srv.EXPECT().Logs(gomock.Any()).Return("INFO: Uvicorn running\n", nil)
	srv.EXPECT().Stop(gomock.Any())
	engine.EXPECT().StartServer(gomock.Any(), image, summary.Port).Return(srv, nil)

	report, err := verify.New(engine, verify.Options{StartupTimeout: 5 * time.Second}).
		Run(context.Background(), cfg, summary, image)
	if !errors.Is(err, verify.ErrVerify) {
		t.Fatalf("got %v, want ErrVerify", err)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "startup" {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if !strings.Contains(failed[0].Detail, "health route answered 500") {
		t.Fatalf("detail %q missing the health route status", failed[0].Detail)
	}
}

func TestRunMissingBinary(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	cfg, summary := testSummary(t)

	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"/bin/sh", "-c", "command -v tesseract"}).
		Return(dockerclient.CommandResult{ExitCode: 127}, nil)
	engine.EXPECT().
		RunCommand(gomock.Any(), image, gomock.Any()).
		Return(dockerclient.CommandResult{ExitCode: 0, Stdout: "Python 3.11.9\n"}, nil).
		Times(3)

	report, err := verify.New(engine, verify.Options{SkipStartup: true}).
		Run(context.Background(), cfg, summary, image)
	if !errors.Is(err, verify.ErrVerify) {
		t.Fatalf("got %v, want ErrVerify", err)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "binary tesseract" {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunImportFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	cfg, summary := testSummary(t)

	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"/bin/sh", "-c", "command -v tesseract"}).
		Return(dockerclient.CommandResult{ExitCode: 0, Stdout: "/usr/bin/tesseract\n"}, nil)
	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"python", "-c", "import pytesseract"}).
		Return(dockerclient.CommandResult{ExitCode: 0}, nil)
	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"python", "-c", "import PIL"}).
		Return(dockerclient.CommandResult{
			ExitCode: 1,
			Stderr:   "Traceback (most recent call last):\nModuleNotFoundError: No module named 'PIL'\n",
		}, nil)
	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"python", "-V"}).
		Return(dockerclient.CommandResult{ExitCode: 0, Stdout: "Python 3.11.9\n"}, nil)

	report, err := verify.New(engine, verify.Options{SkipStartup: true}).
		Run(context.Background(), cfg, summary, image)
	if !errors.Is(err, verify.ErrVerify) {
		t.Fatalf("got %v, want ErrVerify", err)
	}
	failed := report.Failed()
	if len(failed) != 1 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if !strings.Contains(failed[0].Detail, "ModuleNotFoundError") {
		t.Fatalf("detail %q lost the traceback cause", failed[0].Detail)
	}
	if !strings.Contains(failed[0].Detail, `transplant = "prefix"`) {
		t.Fatalf("detail %q missing the prefix-transplant advice", failed[0].Detail)
	}
}

func TestRunImportFailurePrefixModeSkipsAdvice(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	cfg, summary := testSummary(t)
	summary.Transplant = config.TransplantPrefix

	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"/bin/sh", "-c", "command -v tesseract"}).
		Return(dockerclient.CommandResult{ExitCode: 0, Stdout: "/usr/bin/tesseract\n"}, nil)
	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"python", "-c", "import pytesseract"}).
		Return(dockerclient.CommandResult{ExitCode: 0}, nil)
	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"python", "-c", "import PIL"}).
		Return(dockerclient.CommandResult{
			ExitCode: 1,
			Stderr:   "Traceback (most recent call last):\nModuleNotFoundError: No module named 'PIL'\n",
		}, nil)
	engine.EXPECT().
		RunCommand(gomock.Any(), image, []string{"python", "-V"}).
		Return(dockerclient.CommandResult{ExitCode: 0, Stdout: "Python 3.11.9\n"}, nil)

	report, err := verify.New(engine, verify.Options{SkipStartup: true}).
		Run(context.Background(), cfg, summary, image)
	if !errors.Is(err, verify.ErrVerify) {
		t.Fatalf("got %v, want ErrVerify", err)
	}
	failed := report.Failed()
	if len(failed) != 1 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	// the broadest mode was already in use, there is nothing to advise
	if strings.Contains(failed[0].Detail, "prefix") {
		t.Fatalf("detail %q advises a retry in prefix mode while already in it", failed[0].Detail)
	}
}

func TestRunSeriesMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	cfg, summary := testSummary(t)

	expectStaticProbes(engine, "Python 3.12.6\n")

	report, err := verify.New(engine, verify.Options{SkipStartup: true}).
		Run(context.Background(), cfg, summary, image)
	if !errors.Is(err, verify.ErrVerify) {
		t.Fatalf("got %v, want ErrVerify", err)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "python series" {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunStartupLogFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	cfg, summary := testSummary(t)

	expectStaticProbes(engine, "Python 3.11.9\n")

	// port never opens and the process dies with a missing native lib
	srv := mocks.NewMockServer(ctrl)
	srv.EXPECT().Addr().Return("127.0.0.1:1").AnyTimes()
	srv.EXPECT().Running(gomock.Any()).Return(false).AnyTimes()
	srv.EXPECT().Logs(gomock.Any()).
		Return("pdftoppm: error while loading shared libraries: libpoppler.so\n", nil)
	srv.EXPECT().Stop(gomock.Any())
	engine.EXPECT().StartServer(gomock.Any(), image, summary.Port).Return(srv, nil)

	report, err := verify.New(engine, verify.Options{StartupTimeout: 2 * time.Second}).
		Run(context.Background(), cfg, summary, image)
	if !errors.Is(err, verify.ErrVerify) {
		t.Fatalf("got %v, want ErrVerify", err)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Name != "startup" {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if !strings.Contains(failed[0].Detail, "shared libraries") {
		t.Fatalf("detail %q lost the log line", failed[0].Detail)
	}
}

func TestRunProbeTransportError(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	cfg, summary := testSummary(t)

	wantErr := errors.New("engine unreachable")
	engine.EXPECT().
		RunCommand(gomock.Any(), image, gomock.Any()).
		Return(dockerclient.CommandResult{}, wantErr)

	_, err := verify.New(engine, verify.Options{SkipStartup: true}).
		Run(context.Background(), cfg, summary, image)
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want transport error", err)
	}
}
