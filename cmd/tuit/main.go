// Command tuit is the headless transfer process: it wires together the
// config, blob store, history, and event bus, then exercises the
// orchestrator through two subcommands, send and receive. A full terminal
// UI is an external collaborator (spec.md §1's "out of scope" list); this
// binary is the minimal driver that proves the orchestrator surface end to
// end, in the spirit of noisefs/cmd/noisefs's own flag-driven upload and
// download actions.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrBloodrune/tuit/internal/config"
	"github.com/MrBloodrune/tuit/internal/events"
	"github.com/MrBloodrune/tuit/internal/history"
	"github.com/MrBloodrune/tuit/internal/logging"
	"github.com/MrBloodrune/tuit/internal/orchestrator"
	"github.com/MrBloodrune/tuit/internal/store"
)

// Global flags, following the teacher's persistent-flag-plus-package-var
// convention (rescale-labs-Rescale_Interlink/internal/cli/root.go).
var (
	incognito  bool
	configPath string
	receiveDir string
	debug      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tuit",
		Short:         "Peer-to-peer file transfer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&incognito, "incognito", false, "ephemeral mode: no history, no data left behind on exit")
	root.PersistentFlags().StringVar(&configPath, "config", "", "alternate config file path")
	root.PersistentFlags().StringVar(&receiveDir, "receive-dir", "", "overrides the configured output directory")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	root.AddCommand(newSendCmd())
	root.AddCommand(newReceiveCmd())
	return root
}

// app bundles the subsystems every subcommand wires up identically: load
// config, open a per-instance store, open history, build the orchestrator,
// and run it until the returned stop func is called.
type app struct {
	cfg       config.Config
	log       *logging.Logger
	store     *store.Store
	hist      *history.Store
	sink      *events.Sink
	orch      *orchestrator.Orchestrator
	dataDir   string
	ephemeral bool
}

func newApp(ctx context.Context) (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	log := logging.New(debug)

	dataDir, err := instanceDataDir()
	if err != nil {
		return nil, nil, fmt.Errorf("resolve data directory: %w", err)
	}

	st, err := store.Open(filepath.Join(dataDir, "blobs"))
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	historyEnabled := cfg.Persistence.History && !incognito
	var historyPath string
	if historyEnabled {
		historyPath = filepath.Join(filepath.Dir(dataDir), "history.json")
	}
	hist := history.Open(historyPath, historyEnabled, log)

	sink := events.NewSink(256)
	orch := orchestrator.New(st, sink, log, cfg.Transfer.MaxConcurrentSends, cfg.Transfer.MaxConcurrentReceives, 32)

	runCtx, cancelRun := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.Run(runCtx)
	}()

	a := &app{
		cfg:       cfg,
		log:       log,
		store:     st,
		hist:      hist,
		sink:      sink,
		orch:      orch,
		dataDir:   dataDir,
		ephemeral: incognito,
	}

	cleanup := func() {
		orch.Commands() <- orchestrator.ShutdownCommand()
		<-done
		cancelRun()
		if a.ephemeral {
			if err := os.RemoveAll(dataDir); err != nil {
				log.Warn().Err(err).Str("dir", dataDir).Msg("failed to remove ephemeral data directory")
			}
		}
	}
	return a, cleanup, nil
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		path = p
	}
	return config.Load(path)
}

// instanceDataDir implements spec.md §6's "per-process-instance subdirectory
// (instance-<pid>) under a platform-specific user data directory".
func instanceDataDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "tuit", fmt.Sprintf("instance-%d", os.Getpid()))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// outputDir resolves spec.md §6's precedence: --receive-dir flag, then
// config's preferences.receive_dir, then the platform downloads directory.
func (a *app) outputDir() (string, error) {
	if receiveDir != "" {
		return receiveDir, nil
	}
	if a.cfg.Preferences.ReceiveDir != "" {
		return a.cfg.Preferences.ReceiveDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Downloads"), nil
}

func newSendCmd() *cobra.Command {
	var followSymlinks bool
	cmd := &cobra.Command{
		Use:   "send <path>...",
		Short: "Import one or more paths and wait for a peer to receive them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			id := uuid.NewString()
			a.orch.Commands() <- orchestrator.SendCommand(id, args, followSymlinks)

			rec := history.Record{ID: id, Direction: history.DirectionSend}
			start := time.Now()
			err = drainSend(ctx, a.sink, id, &rec)
			rec.DurationSecs = time.Since(start).Seconds()
			a.hist.Add(rec)
			return err
		},
	}
	cmd.Flags().BoolVar(&followSymlinks, "follow-symlinks", false, "follow symbolic links encountered while importing a directory")
	return cmd
}

func newReceiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive <ticket>",
		Short: "Connect to the peer named by a ticket and download its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, cleanup, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			outDir, err := a.outputDir()
			if err != nil {
				return err
			}

			id := uuid.NewString()
			a.orch.Commands() <- orchestrator.ReceiveCommand(id, args[0], outDir)

			rec := history.Record{ID: id, Direction: history.DirectionReceive, Ticket: args[0]}
			start := time.Now()
			err = drainReceive(ctx, a.orch, a.sink, id, &rec)
			rec.DurationSecs = time.Since(start).Seconds()
			a.hist.Add(rec)
			return err
		},
	}
	return cmd
}

// drainSend reads the send side's event stream until a terminal event,
// printing the ticket as soon as it is ready and a progress line per
// update, the way a UI would render the same stream.
func drainSend(ctx context.Context, sink *events.Sink, id string, rec *history.Record) error {
	for {
		select {
		case ev := <-sink.C():
			if ev.ID != id {
				continue
			}
			switch ev.Kind {
			case events.KindTicketReady:
				fmt.Println(ev.Ticket)
				rec.Ticket = ev.Ticket
			case events.KindStarted:
				rec.Name = ev.Name
				rec.TotalBytes = ev.TotalBytes
			case events.KindProgress:
				fmt.Fprintf(os.Stderr, "\r%d bytes (%d B/s)", ev.TransferredBytes, ev.SpeedBPS)
			case events.KindCompleted:
				fmt.Fprintln(os.Stderr)
				rec.Status = history.StatusCompleted
				rec.TotalBytes = ev.TotalBytes
				return nil
			case events.KindFailed:
				fmt.Fprintln(os.Stderr)
				rec.Status = history.StatusFailed
				rec.ErrorMessage = ev.Err.Error()
				return ev.Err
			case events.KindCancelled:
				fmt.Fprintln(os.Stderr)
				rec.Status = history.StatusCancelled
				return fmt.Errorf("transfer cancelled")
			}
		case <-ctx.Done():
			rec.Status = history.StatusCancelled
			return ctx.Err()
		}
	}
}

// drainReceive mirrors drainSend, additionally prompting on stdin when a
// FileConflicts event arrives (spec.md §8 scenario 2/3) and replying
// through ResolveConflict.
func drainReceive(ctx context.Context, orch *orchestrator.Orchestrator, sink *events.Sink, id string, rec *history.Record) error {
	for {
		select {
		case ev := <-sink.C():
			if ev.ID != id {
				continue
			}
			switch ev.Kind {
			case events.KindFileList:
				rec.Files = make([]history.FileEntry, 0, len(ev.Files))
				for _, f := range ev.Files {
					rec.Files = append(rec.Files, history.FileEntry{Name: f.Name, Size: f.Size})
				}
			case events.KindFileConflicts:
				rec.TotalBytes = ev.TotalBytes
				resolution := promptConflicts(ev.Conflicts)
				orch.Commands() <- orchestrator.ResolveConflictCommand(id, resolution)
			case events.KindProgress:
				fmt.Fprintf(os.Stderr, "\r%d bytes (%d B/s)", ev.TransferredBytes, ev.SpeedBPS)
			case events.KindCompleted:
				fmt.Fprintln(os.Stderr)
				rec.Status = history.StatusCompleted
				rec.TotalBytes = ev.TotalBytes
				return nil
			case events.KindFailed:
				fmt.Fprintln(os.Stderr)
				rec.Status = history.StatusFailed
				rec.ErrorMessage = ev.Err.Error()
				return ev.Err
			case events.KindCancelled:
				fmt.Fprintln(os.Stderr)
				rec.Status = history.StatusCancelled
				return fmt.Errorf("transfer cancelled")
			}
		case <-ctx.Done():
			rec.Status = history.StatusCancelled
			return ctx.Err()
		}
	}
}

func promptConflicts(conflicts []events.Conflict) events.Resolution {
	fmt.Fprintln(os.Stderr, "file conflicts:")
	for _, c := range conflicts {
		fmt.Fprintf(os.Stderr, "  %s already exists at %s\n", c.Name, c.ExistingPath)
	}
	fmt.Fprint(os.Stderr, "resolve as [r]ename, [o]verwrite, [s]kip, [c]ancel? ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return parseResolution(line)
}

// parseResolution maps one line of stdin reply to a Resolution, defaulting
// to rename (the non-destructive choice) on anything unrecognized.
func parseResolution(line string) events.Resolution {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "o", "overwrite":
		return events.ResolveOverwrite
	case "s", "skip":
		return events.ResolveSkip
	case "c", "cancel":
		return events.ResolveCancel
	default:
		return events.ResolveRename
	}
}

func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
