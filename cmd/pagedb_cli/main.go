package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/sushant-115/pagedb/core/storage_engine/buffer"
	"github.com/sushant-115/pagedb/core/storage_engine/disk"
	"github.com/sushant-115/pagedb/pkg/config"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	dbPath := flag.String("db", "", "backing file (overrides storage.path)")
	poolSize := flag.Int("pool", 0, "buffer pool frames (overrides storage.pool_size)")
	policy := flag.String("replacer", "", "replacement policy, lru or clock (overrides storage.replacer)")
	historyFile := flag.String("history", filepath.Join(os.TempDir(), "pagedb_cli.history"), "readline history file")
	flag.Parse()

	if err := run(*configPath, *dbPath, *poolSize, *policy, *historyFile, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "pagedb: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dbPath string, poolSize int, policy, historyFile string, args []string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if poolSize != 0 {
		cfg.Storage.PoolSize = poolSize
	}
	if policy != "" {
		cfg.Storage.Replacer = policy
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer zlogger.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			zlogger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	dm, err := disk.NewDiskManager(cfg.Storage.Path, zlogger, disk.WithPageLimit(cfg.Storage.PageLimit))
	if err != nil {
		return err
	}
	bpm, err := buffer.NewBufferPoolManager(cfg.Storage.PoolSize, dm,
		buffer.WithReplacerPolicy(cfg.Storage.Replacer),
		buffer.WithLogger(zlogger),
		buffer.WithMeter(tel.Meter),
	)
	if err != nil {
		dm.Close()
		return err
	}
	defer func() {
		if err := bpm.Close(); err != nil {
			zlogger.Error("closing buffer pool", zap.Error(err))
		}
	}()

	sh := &shell{
		bpm:        bpm,
		dm:         dm,
		tracer:     tel.Tracer,
		logger:     zlogger.Named("cli"),
		out:        os.Stdout,
		backupRate: cfg.Backup.RateBytesPerSec,
	}

	ctx := context.Background()
	if len(args) > 0 {
		sh.execute(ctx, args)
		return nil
	}
	return interactive(ctx, sh, historyFile)
}

func interactive(ctx context.Context, sh *shell, historyFile string) error {
	items := make([]readline.PrefixCompleterInterface, 0, len(commandNames))
	for _, name := range commandNames {
		items = append(items, readline.PcItem(name))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pagedb> ",
		HistoryFile:     historyFile,
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()
	sh.out = rl.Stdout()

	fmt.Fprintln(sh.out, "pagedb CLI (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		cmdArgs := strings.Fields(strings.TrimSpace(line))
		if len(cmdArgs) == 0 {
			continue
		}
		if sh.execute(ctx, cmdArgs) {
			return nil
		}
	}
}
