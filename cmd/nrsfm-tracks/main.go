package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/ironsheep/nrsfm-tracks/internal/imaging"
	"github.com/ironsheep/nrsfm-tracks/internal/job"
	"github.com/ironsheep/nrsfm-tracks/internal/pipeline"
	"github.com/ironsheep/nrsfm-tracks/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const logLevelEnv = "NRSFM_LOG_LEVEL"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "--version", "-v", "version":
			fmt.Fprintf(stdout, "nrsfm-tracks %s\n", Version)
			fmt.Fprintf(stdout, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
			return job.ExitOK
		case "--help", "-h", "help":
			usage(stdout)
			return job.ExitOK
		case "serve":
			return serve(args[1:], stderr)
		}
	}

	fs := flag.NewFlagSet("nrsfm-tracks", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr) }
	var (
		workspaceDir  = fs.String("workspace", "", "workspace directory holding images/")
		video         = fs.String("video", "", "extract frames from this video into images/")
		configPath    = fs.String("config", "", "JSON tuning file")
		redoDetection = fs.Bool("redo-detection", false, "recompute detection (and matching)")
		redoMatching  = fs.Bool("redo-matching", false, "recompute matching")
		preview       = fs.Bool("preview", false, "write preview.png into the workspace")
		logLevel      = fs.String("log-level", os.Getenv(logLevelEnv), "debug, info, warn or error")
	)
	if err := fs.Parse(args); err != nil {
		return job.ExitConfig
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return job.ExitConfig
	}

	logger, err := newLogger(stderr, *logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return job.ExitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := job.Request{
		Workspace:  *workspaceDir,
		Video:      *video,
		ConfigPath: *configPath,
		Overrides: pipeline.Overrides{
			RedoDetection: *redoDetection,
			RedoMatching:  *redoMatching,
		},
		Preview: *preview,
	}
	rep, err := job.Execute(ctx, req, imaging.NewImageCache(), logger)
	if err != nil {
		logger.Error("run failed", "err", err)
		return job.ExitCode(err)
	}

	fmt.Fprintf(stdout, "%d keypoints, %d matched tracks over %d frames (detection %s, matching %s)\n",
		rep.Keypoints, rep.Matched, len(rep.Frames), rep.Detection.Decision, rep.Matching.Decision)
	return job.ExitOK
}

func serve(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("nrsfm-tracks serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	logLevel := fs.String("log-level", os.Getenv(logLevelEnv), "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return job.ExitConfig
	}

	// stdout is reserved for the MCP protocol
	logger, err := newLogger(stderr, *logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return job.ExitConfig
	}
	logger.Debug("starting MCP server", "version", Version, "built", BuildTime, "commit", GitCommit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(logger, Version).Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "err", err)
		return job.ExitFailure
	}
	return job.ExitOK
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05",
	})), nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "nrsfm-tracks - checkpointed 2D point tracks for non-rigid structure from motion")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  nrsfm-tracks --workspace DIR [options]")
	fmt.Fprintln(w, "  nrsfm-tracks serve [--log-level LEVEL]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  --workspace DIR      Workspace holding images/ (features/ and matches/ are written there)")
	fmt.Fprintln(w, "  --video FILE         Extract frames from a video into images/ first")
	fmt.Fprintln(w, "  --config FILE        JSON tuning file")
	fmt.Fprintln(w, "  --redo-detection     Recompute detection even with valid checkpoints")
	fmt.Fprintln(w, "  --redo-matching      Recompute matching even with valid checkpoints")
	fmt.Fprintln(w, "  --preview            Write preview.png with detected and matched keypoints")
	fmt.Fprintln(w, "  --log-level LEVEL    debug, info, warn or error")
	fmt.Fprintln(w, "  --version, -v        Print version information")
	fmt.Fprintln(w, "  --help, -h           Print this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment variables:")
	fmt.Fprintf(w, "  %s=debug       Default log level\n", logLevelEnv)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit codes: 2 config, 3 I/O, 4 size mismatch, 5 format, 6 too few features.")
}
