package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-lyrics/internal/cli"
	"github.com/loqalabs/loqa-lyrics/internal/config"
	"github.com/loqalabs/loqa-lyrics/internal/eventstore"
	"github.com/loqalabs/loqa-lyrics/internal/runtime"
)

var version = "0.1.0-dev"

var (
	configPath string
	envFile    string

	inputPath string
	saveOut   bool
	outputDir string

	runsLimit int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loqa-lyrics",
	Short: "Transcribe song lyrics from audio files",
	Long: `loqa-lyrics isolates the vocal stem of a song, detects the sung
language and transcribes the lyrics.

Pipeline: audio → vocal isolation → language detection → transcription`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP upload API and bus worker",
	Long: `Serve the /api/transcribe upload endpoint, health checks and
metrics. When the bus is enabled, transcription requests are also
consumed from NATS.

Example:
  loqa-lyrics serve --config loqa-lyrics.yaml`,
	RunE: runServe,
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Transcribe a single file interactively",
	Long: `Transcribe one audio file and print the lyrics. Without --input
the path is read from standard input.

Examples:
  loqa-lyrics transcribe
  loqa-lyrics transcribe -i song.mp3 --save --output-dir ./lyrics`,
	RunE: runTranscribe,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs from the journal",
	RunE:  runRuns,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "loqa-lyrics.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to .env file")

	transcribeCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Audio file to transcribe (prompted when empty)")
	transcribeCmd.Flags().BoolVar(&saveOut, "save", false, "Save the transcription without asking")
	transcribeCmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "Directory for saved transcriptions")

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list")

	rootCmd.AddCommand(serveCmd, transcribeCmd, runsCmd, versionCmd)
}

// loadConfig reads the config file. The default path may be absent, in which
// case defaults plus environment overrides apply.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}
	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(cfg, version, logger)
	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

func runTranscribe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Progress goes to stdout; structured logs stay on stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, err := runtime.BuildPipeline(cfg, nil, logger)
	if err != nil {
		return err
	}

	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	orch.AddHook(runtime.JournalHook(store, logger))

	session := cli.NewSession(orch, os.Stdin, cmd.OutOrStdout(),
		cli.WithAutoSave(saveOut),
		cli.WithOutputDir(outputDir),
	)
	return session.Run(ctx, inputPath)
}

func runRuns(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Session mode clears the journal on open, so only persistent has history.
	if cfg.EventStore.RetentionMode != eventstore.ModePersistent {
		return fmt.Errorf("run journal history needs event_store.retention_mode=persistent, got %q", cfg.EventStore.RetentionMode)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, runsLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tOUTCOME\tLANG\tCHARS\tINPUT")
	for _, r := range runs {
		lang := r.Language
		if r.LanguageDegraded {
			lang += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RunID, r.StartedAt.Local().Format(time.DateTime), r.Outcome, lang, r.TranscriptChars, r.Input)
	}
	return w.Flush()
}
