package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"declnerd/internal/config"
	"declnerd/internal/decl"
	"declnerd/internal/depgraph"
	"declnerd/internal/logging"
	"declnerd/internal/provider"
	"declnerd/internal/store"
	"declnerd/internal/watch"
	"declnerd/internal/world"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "declnerd",
	Short: "declnerd - folded declaration cache for class hierarchies",
	Long: `declnerd extracts shallow class declarations from a workspace, folds
inheritance into complete per-class declarations, and keeps the folded
world current as files change.

Folding flattens everything a class inherits (methods, properties,
constants, type constants, ancestors, requirements) into one record per
class, so consumers never re-walk the hierarchy.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
			workspace = cwd
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		path := configPath
		if path == "" {
			path = config.DefaultPath(workspace)
		}
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// Category file logs and the audit trail are no-ops outside
		// debug mode.
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("Category logging unavailable", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("Audit trail unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize declnerd in the current workspace",
	Long: `Writes the default configuration under .declnerd/ so it can be
edited before the first scan. Running declnerd without init works too;
every command falls back to built-in defaults.`,
	RunE: runInit,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the workspace and fold every declaration",
	Long: `Walks the workspace, extracts shallow declarations from every
source file a parser accepts, folds the whole world in dependency order,
and records the result in the declaration store.

Scans are incremental: folded declarations whose source files are
unchanged since the previous run are reused, and only the classes
touched by changed files (plus their dependents) refold.`,
	RunE: runScan,
}

var foldCmd = &cobra.Command{
	Use:   "fold [class...]",
	Short: "Fold the named classes, or the whole world",
	Long: `Folds each named class after folding every ancestor it references.
With no arguments the entire workspace folds in dependency order.

Example:
  declnerd fold '\Venue\Room'`,
	RunE: runFold,
}

var classCmd = &cobra.Command{
	Use:   "class [name]",
	Short: "Print the folded declaration of one class as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runClass,
}

var depsCmd = &cobra.Command{
	Use:   "deps [name]",
	Short: "Show every class whose fold consulted the named one",
	Long: `Lists the transitive dependents of a class: everything that would
refold if its declaration changed. The closure comes from the datalog
dependency kernel.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeps,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Fold the workspace and keep it folded as files change",
	RunE:  runWatch,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show declnerd status for this workspace",
	RunE:  showStatus,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <workspace>/.declnerd/config.yaml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(foldCmd)
	rootCmd.AddCommand(classCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the components every command wires up the same way.
type app struct {
	st      *store.DeclStore
	scanner *world.Scanner
	prov    *provider.Provider
}

// newApp opens the store and builds the provider. One-shot commands use
// the in-memory dependency graph; commands that answer reachability
// queries (deps, watch) use the datalog kernel.
func newApp(useKernel bool) (*app, error) {
	st, err := store.NewDeclStore(cfg.DatabasePath(workspace))
	if err != nil {
		return nil, fmt.Errorf("opening declaration store: %w", err)
	}

	var graph provider.Graph
	if useKernel {
		graph = depgraph.NewKernelRegistrar()
	} else {
		graph = depgraph.NewMemoryRegistrar()
	}

	return &app{
		st:      st,
		scanner: world.NewScanner(cfg.World, nil, world.NewFileCache(workspace)),
		prov: provider.New(provider.Options{
			Graph:       graph,
			Store:       st,
			Parallelism: cfg.GetParallelism(),
		}),
	}, nil
}

func (a *app) close() {
	if err := a.st.Close(); err != nil {
		logger.Warn("Closing store", zap.Error(err))
	}
}

// loadWorld scans the workspace and primes the provider: shallow table
// from the scan, folded cache from the store, then a manifest sync so
// stale warm entries are dropped.
func (a *app) loadWorld(ctx context.Context) (*world.ScanResult, error) {
	scan, err := a.scanner.Scan(ctx, workspace)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", workspace, err)
	}
	a.prov.SetWorld(scan.Classes)

	if _, err := a.prov.WarmStart(); err != nil {
		logger.Warn("Warm start failed, folding cold", zap.Error(err))
	}
	records := make([]*store.FileRecord, 0, len(scan.Files))
	for _, f := range scan.Files {
		records = append(records, fileRecord(f))
	}
	if _, err := a.prov.SyncManifest(records); err != nil {
		logger.Warn("Manifest sync failed", zap.Error(err))
	}
	return scan, nil
}

func fileRecord(f world.FileResult) *store.FileRecord {
	decls := make([]string, 0, len(f.Decls))
	for _, d := range f.Decls {
		decls = append(decls, string(d))
	}
	return &store.FileRecord{
		Path:    f.Path,
		Hash:    f.Hash,
		Size:    f.Size,
		ModTime: f.ModTime,
		Decls:   decls,
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultPath(workspace)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Workspace already initialized (%s)\n", path)
		return nil
	}

	fresh := config.DefaultConfig()
	if err := fresh.Save(path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Println("Initialized declnerd workspace")
	fmt.Printf("  Config: %s\n", path)
	fmt.Printf("  Store:  %s\n", fresh.DatabasePath(workspace))
	fmt.Println()
	fmt.Println("Run 'declnerd scan' to build the declaration cache.")
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	runID := uuid.New().String()
	logger.Info("Scanning workspace", zap.String("root", workspace), zap.String("run_id", runID))

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	start := time.Now()
	scan, err := a.loadWorld(ctx)
	if err != nil {
		return err
	}
	folded, err := a.prov.FoldAll(ctx)
	if err != nil {
		return fmt.Errorf("folding world: %w", err)
	}

	if err := a.st.RecordScan(&store.ScanRun{
		ID:           runID,
		Root:         workspace,
		StartedAt:    start,
		Duration:     time.Since(start),
		FilesSeen:    scan.FilesSeen,
		FilesParsed:  scan.FilesParsed,
		ClassesFound: len(scan.Classes),
	}); err != nil {
		logger.Warn("Recording scan", zap.Error(err))
	}
	logging.Audit().ScanComplete(workspace, scan.FilesParsed, time.Since(start).Milliseconds())

	fmt.Printf("Scanned %s\n", workspace)
	fmt.Printf("  Files:   %d seen, %d parsed", scan.FilesSeen, scan.FilesParsed)
	if scan.SkippedLarge > 0 {
		fmt.Printf(", %d skipped (too large)", scan.SkippedLarge)
	}
	if scan.ParseErrors > 0 {
		fmt.Printf(", %d parse errors", scan.ParseErrors)
	}
	fmt.Println()
	fmt.Printf("  Classes: %d declared, %d folded\n", len(scan.Classes), folded)
	fmt.Printf("  Took:    %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runFold(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.loadWorld(ctx); err != nil {
		return err
	}

	if len(args) == 0 {
		n, err := a.prov.FoldAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Folded %d classes\n", n)
		return nil
	}

	for _, arg := range args {
		name := normalizeClassName(arg)
		fc, err := a.prov.Fold(ctx, name)
		if err != nil {
			return fmt.Errorf("folding %s: %w", name, err)
		}
		printFoldSummary(fc)
	}
	return nil
}

func runClass(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.loadWorld(ctx); err != nil {
		return err
	}

	name := normalizeClassName(args[0])
	fc, err := a.prov.Fold(ctx, name)
	if err != nil {
		return fmt.Errorf("folding %s: %w", name, err)
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	fmt.Println(string(data))
	return nil
}

func runDeps(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.loadWorld(ctx); err != nil {
		return err
	}
	if _, err := a.prov.FoldAll(ctx); err != nil {
		return fmt.Errorf("folding world: %w", err)
	}

	name := normalizeClassName(args[0])
	dependents, err := a.prov.Dependents(name)
	if err != nil {
		return fmt.Errorf("querying dependents of %s: %w", name, err)
	}

	if len(dependents) == 0 {
		fmt.Printf("Nothing folds in %s\n", name)
		return nil
	}
	fmt.Printf("%d classes fold in %s:\n", len(dependents), name)
	for _, d := range dependents {
		fmt.Printf("  %s\n", d)
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	scan, err := a.loadWorld(ctx)
	if err != nil {
		return err
	}
	folded, err := a.prov.FoldAll(ctx)
	if err != nil {
		return fmt.Errorf("folding world: %w", err)
	}
	fmt.Printf("Folded %d classes, watching %s (Ctrl+C to stop)\n", folded, workspace)

	w, err := watch.New(workspace, cfg, a.scanner, a.prov, a.st)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	w.Seed(scan.Files)
	if err := w.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	w.Stop()

	stats := w.Stats()
	fmt.Println()
	fmt.Println("Watcher stopped")
	fmt.Printf("  Events:  %d created, %d modified, %d deleted\n",
		stats.FilesCreated, stats.FilesModified, stats.FilesDeleted)
	fmt.Printf("  Refolds: %d (%d invalidations)\n", stats.Refolds, stats.Invalidations)
	if stats.Errors > 0 {
		fmt.Printf("  Errors:  %d\n", stats.Errors)
	}
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("declnerd Status")
	fmt.Println("===============")
	fmt.Printf("Version:   %s\n", cfg.Version)
	fmt.Printf("Workspace: %s\n", workspace)
	fmt.Println()

	dbPath := cfg.DatabasePath(workspace)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("✗ No declaration store (run 'declnerd scan' first)")
		return nil
	}

	st, err := store.NewDeclStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening declaration store: %w", err)
	}
	defer st.Close()

	fmt.Printf("✓ Store: %s\n", dbPath)
	if stats, err := st.Stats(); err == nil {
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-14s %d rows\n", k+":", stats[k])
		}
	}

	last, err := st.LastScan()
	switch {
	case err == nil:
		fmt.Printf("✓ Last scan: %s (%d files, %d classes, %s)\n",
			last.StartedAt.Format(time.RFC3339), last.FilesParsed,
			last.ClassesFound, last.Duration.Round(time.Millisecond))
	case errors.Is(err, store.ErrNotFound):
		fmt.Println("✗ No scan recorded yet")
	default:
		return err
	}
	return nil
}

// normalizeClassName roots a bare class name the way declarations are
// keyed.
func normalizeClassName(name string) decl.TypeName {
	if !strings.HasPrefix(name, "\\") {
		name = "\\" + name
	}
	return decl.TypeName(name)
}

func printFoldSummary(fc *decl.FoldedClass) {
	fmt.Printf("%s (%s", fc.Name, fc.Kind)
	if fc.IsAbstract {
		fmt.Print(", abstract")
	}
	if fc.IsFinal {
		fmt.Print(", final")
	}
	fmt.Println(")")
	fmt.Printf("  Ancestors: %d  Methods: %d (+%d static)  Props: %d (+%d static)  Consts: %d  Type consts: %d\n",
		len(fc.Ancestors), len(fc.Methods), len(fc.StaticMeths),
		len(fc.Props), len(fc.StaticProps), len(fc.Consts), len(fc.TypeConsts))
}
