package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/robfig/cron/v3"
	"github.com/w-h-a/workmem/config"
	memorymanager "github.com/w-h-a/workmem/memory_manager"
	"github.com/w-h-a/workmem/server"
	httpserver "github.com/w-h-a/workmem/server/http"
)

type Globals struct {
	Config   string `help:"Path to a YAML config file" type:"path" env:"WORKMEM_CONFIG"`
	EnvFile  string `help:"Path to a .env file with provider credentials" type:"path"`
	LogLevel string `help:"Log level" enum:"debug,info,warn,error" default:"info"`
	LogJSON  bool   `help:"Log as JSON"`
}

type CaptureCmd struct {
	Session string `help:"Session key the turn belongs to" required:""`
	Content string `help:"Turn content; read from stdin when empty"`
}

type RecallCmd struct {
	Session string `help:"Session key of the querying turn" required:""`
	Prompt  string `arg:"" help:"Prompt about to be sent"`
	JSON    bool   `help:"Print the scored lists instead of the formatted block"`
}

type ConsolidateCmd struct {
	DryRun    bool    `help:"Report clusters without calling any service or mutating the store"`
	BackupDir string  `help:"Directory for the pre-merge backup" type:"path"`
	Threshold float64 `help:"Override the cosine similarity threshold"`
}

type PruneCmd struct{}

type RestoreCmd struct {
	File string `arg:"" help:"Backup file written by consolidate" type:"existingfile"`
}

type ServeCmd struct {
	Address string `help:"Listen address"`
}

var cli struct {
	Globals

	Capture     CaptureCmd     `cmd:"" help:"Classify and store the content of a finished turn"`
	Recall      RecallCmd      `cmd:"" help:"Print the working memory to inject before a turn"`
	Consolidate ConsolidateCmd `cmd:"" help:"Merge near-duplicate entries across the store"`
	Prune       PruneCmd       `cmd:"" help:"Delete entries older than the window"`
	Restore     RestoreCmd     `cmd:"" help:"Re-insert entries from a backup"`
	Serve       ServeCmd       `cmd:"" help:"Serve the host hooks and run scheduled maintenance"`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("workmem"),
		kong.Description("Rolling cross-session working memory for conversational agents."),
		kong.UsageOnError(),
	)

	setupLogging(cli.LogLevel, cli.LogJSON)

	cfg, err := config.Load(cli.Config, cli.EnvFile)
	kctx.FatalIfErrorf(err)

	err = cfg.Validate()
	kctx.FatalIfErrorf(err)

	kctx.FatalIfErrorf(kctx.Run(&cfg))
}

func setupLogging(level string, asJSON bool) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if asJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(h))
}

func (c *CaptureCmd) Run(cfg *config.Config) error {
	content := c.Content
	if len(content) == 0 {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		content = string(raw)
	}

	e, err := build(*cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	decision, err := e.mm.Capture(context.Background(), memorymanager.Turn{
		SessionKey: c.Session,
		Content:    content,
	})
	if err != nil {
		return err
	}

	decision.Record.Embedding = nil

	return printJSON(decision)
}

func (c *RecallCmd) Run(cfg *config.Config) error {
	e, err := build(*cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	recollection, err := e.mm.Recall(context.Background(), c.Session, c.Prompt)
	if err != nil {
		return err
	}

	if c.JSON {
		for i := range recollection.Chronological {
			recollection.Chronological[i].Embedding = nil
		}
		for i := range recollection.Ranked {
			recollection.Ranked[i].Embedding = nil
		}
		return printJSON(recollection)
	}

	if len(recollection.Text) > 0 {
		fmt.Println(recollection.Text)
	}

	return nil
}

func (c *ConsolidateCmd) Run(cfg *config.Config) error {
	e, err := build(*cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	dir := c.BackupDir
	if len(dir) == 0 {
		dir = cfg.Maintenance.BackupDir
	}

	report, err := consolidate(context.Background(), e.mm, c.DryRun, dir, c.Threshold)
	if err != nil {
		return err
	}

	return printJSON(report)
}

func (c *PruneCmd) Run(cfg *config.Config) error {
	e, err := build(*cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	pruned, err := e.mm.Prune(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("pruned %d entries\n", pruned)

	return nil
}

func (c *RestoreCmd) Run(cfg *config.Config) error {
	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	e, err := build(*cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	restored, err := e.mm.Restore(context.Background(), f)
	if err != nil {
		return err
	}

	fmt.Printf("restored %d entries\n", restored)

	return nil
}

func (c *ServeCmd) Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := build(*cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	address := c.Address
	if len(address) == 0 {
		address = cfg.Server.Address
	}

	scheduler := cron.New()

	if spec := cfg.Maintenance.PruneSchedule; len(spec) > 0 {
		if _, err := scheduler.AddFunc(spec, func() {
			if _, err := e.mm.Prune(ctx); err != nil {
				slog.ErrorContext(ctx, "scheduled prune failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid prune schedule: %w", err)
		}
	}

	if spec := cfg.Maintenance.ConsolidateSchedule; len(spec) > 0 {
		if _, err := scheduler.AddFunc(spec, func() {
			if _, err := consolidate(ctx, e.mm, false, cfg.Maintenance.BackupDir, 0); err != nil {
				slog.ErrorContext(ctx, "scheduled consolidation failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid consolidate schedule: %w", err)
		}
	}

	srv := httpserver.NewServer(
		server.WithAddress(address),
		server.WithMemoryManager(e.mm),
		httpserver.WithHookTimeout(cfg.Server.HookTimeout),
	)

	if err := srv.Start(); err != nil {
		return err
	}

	scheduler.Start()

	<-ctx.Done()

	slog.Info("shutting down")

	<-scheduler.Stop().Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Stop(shutdown)
}

// consolidate writes the backup file before handing its writer to the
// engine. Dry runs never create one.
func consolidate(ctx context.Context, mm memorymanager.MemoryManager, dryRun bool, dir string, threshold float64) (memorymanager.ConsolidationReport, error) {
	opts := []memorymanager.ConsolidateOption{
		memorymanager.WithDryRun(dryRun),
		memorymanager.WithThreshold(threshold),
	}

	if dryRun {
		return mm.Consolidate(ctx, opts...)
	}

	if len(strings.TrimSpace(dir)) == 0 {
		return memorymanager.ConsolidationReport{}, memorymanager.ErrBackupRequired
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return memorymanager.ConsolidationReport{}, fmt.Errorf("failed to create backup dir: %w", err)
	}

	f, err := createBackup(dir, time.Now())
	if err != nil {
		return memorymanager.ConsolidationReport{}, err
	}

	path := f.Name()

	report, err := mm.Consolidate(ctx, append(opts, memorymanager.WithBackup(f))...)

	closeErr := f.Close()

	if err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close backup: %w", closeErr)
	}

	// an empty file means there was nothing to merge
	if info, statErr := os.Stat(path); statErr == nil && info.Size() == 0 {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.WarnContext(ctx, "failed to remove empty backup", "path", path, "error", rmErr)
		}
	} else if err == nil {
		slog.InfoContext(ctx, "consolidation backup written", "path", path)
	}

	return report, err
}

// createBackup opens a new backup file named after now. It never reuses
// an existing file; a name already taken gets a numeric suffix.
func createBackup(dir string, now time.Time) (*os.File, error) {
	stamp := now.UTC().Format("20060102T150405.000Z")

	for attempt := 0; attempt < 100; attempt++ {
		name := fmt.Sprintf("workmem-%s.jsonl", stamp)
		if attempt > 0 {
			name = fmt.Sprintf("workmem-%s-%d.jsonl", stamp, attempt)
		}

		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}

		return f, nil
	}

	return nil, fmt.Errorf("failed to create backup: no free name for %s in %s", stamp, dir)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
