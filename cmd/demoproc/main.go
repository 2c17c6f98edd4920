package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/calendar"
	"github.com/TobiSchelling/demoproc/internal/config"
	"github.com/TobiSchelling/demoproc/internal/database"
	"github.com/TobiSchelling/demoproc/internal/demo"
	"github.com/TobiSchelling/demoproc/internal/deskdb"
	"github.com/TobiSchelling/demoproc/internal/extern"
	"github.com/TobiSchelling/demoproc/internal/ledger"
	"github.com/TobiSchelling/demoproc/internal/logging"
	"github.com/TobiSchelling/demoproc/internal/pipeline"
	"github.com/TobiSchelling/demoproc/internal/reconcile"
	"github.com/TobiSchelling/demoproc/internal/report"
	"github.com/TobiSchelling/demoproc/internal/server"
	"github.com/TobiSchelling/demoproc/internal/table"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	dateFlag   string
	typeFlag   string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *extern.Error
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "\n"+ee.OperatorMessage())
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "demoproc",
	Short:   "Demo event attendee processing",
	Long:    "demoproc takes a demo event's attendee export through CRM and marketing-DB validation and keeps the counts ledger that reconciles them.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err = logging.New(cfg.Logging.Level, cfg.LogPath(), verbose)
		if err != nil {
			return err
		}
		logger.Debug("config loaded", zap.String("path", path))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	for _, cmd := range []*cobra.Command{stageCmd, statusCmd, reconcileCmd, reportCmd, archiveCmd, demosCmd} {
		cmd.Flags().StringVarP(&dateFlag, "date", "d", "", "Event date as M/D/YYYY (default today)")
	}
	for _, cmd := range []*cobra.Command{stageCmd, statusCmd, reconcileCmd, reportCmd, archiveCmd} {
		cmd.Flags().StringVarP(&typeFlag, "type", "t", "", "Demo type, when more than one is scheduled that day")
	}

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(initLedgerCmd)
	rootCmd.AddCommand(demosCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("demoproc", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/demoproc/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point at the calendar, the raw export and the desktop database.")
		return nil
	},
}

var initLedgerCmd = &cobra.Command{
	Use:   "init-ledger",
	Short: "Reset the counts ledger with one empty entry per calendar event",
	RunE: func(cmd *cobra.Command, args []string) error {
		cal, err := calendar.Load(cfg.Paths.Calendar)
		if err != nil {
			return fmt.Errorf("loading calendar: %w", err)
		}
		keys := cal.EventKeys()
		store := ledger.NewFileStore(cfg.LedgerPath())
		if err := store.Initialize(keys); err != nil {
			return err
		}
		fmt.Printf("Initialized %s with %d events.\n", store.Path(), len(keys))
		return nil
	},
}

var demosCmd = &cobra.Command{
	Use:   "demos",
	Short: "List the demo types scheduled on a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := parseDate(dateFlag)
		if err != nil {
			return err
		}
		cal, err := calendar.Load(cfg.Paths.Calendar)
		if err != nil {
			return fmt.Errorf("loading calendar: %w", err)
		}
		types := cal.TypesOn(date)
		if len(types) == 0 {
			fmt.Printf("No demo scheduled for %s.\n", date.Format(calendar.DateLayout))
			return nil
		}
		fmt.Printf("Demos on %s:\n", date.Format(calendar.DateLayout))
		for _, t := range types {
			fmt.Printf("  %s\n", t)
		}
		if len(types) > 1 {
			fmt.Println("\nPick one with --type.")
		}
		return nil
	},
}

// --- stage command ---

var (
	force   bool
	dryRun  bool
	through string
)

var stageCmd = &cobra.Command{
	Use:   "stage <name>",
	Short: "Run a pipeline stage: " + stageNames(),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := pipeline.ParseStage(args[0])
		if err != nil {
			return err
		}
		to := from
		if through != "" {
			if to, err = pipeline.ParseStage(through); err != nil {
				return err
			}
			if to < from {
				return fmt.Errorf("--through %s comes before %s", to.Slug(), from.Slug())
			}
		}
		return runStages(cmd.Context(), from, to)
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Append the event to the historical archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStages(cmd.Context(), pipeline.Archive, pipeline.Archive)
	},
}

func init() {
	stageCmd.Flags().BoolVar(&force, "force", false, "Run even if the previous stage has not completed")
	stageCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	stageCmd.Flags().StringVar(&through, "through", "", "Keep going through this stage")
	archiveCmd.Flags().BoolVar(&force, "force", false, "Archive even if the final counts have not been taken")
}

func stageNames() string {
	var names []string
	for _, s := range pipeline.Stages() {
		names = append(names, s.Slug())
	}
	return strings.Join(names, ", ")
}

func runStages(ctx context.Context, from, to pipeline.Stage) error {
	d, err := resolveDemo()
	if err != nil {
		return err
	}
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	tables := table.NewXLSXStore()
	deps := pipeline.Deps{
		Tables:     tables,
		Summarizer: report.NewXLSXSummarizer(tables),
		Runs:       db,
		Archive:    db,
		Log:        logger,
	}
	if from <= pipeline.RoundTrip && to >= pipeline.RoundTrip && !dryRun {
		if cfg.DesktopDB.Path == "" {
			return errors.New("desktop_db.path is not configured")
		}
		desk, err := deskdb.Open(cfg.DesktopDB.Path, cfg.DesktopDB.Procedures, cfg.DesktopDB.Forms)
		if err != nil {
			return err
		}
		defer desk.Close()
		deps.DeskDB = desk
	}

	runner, err := pipeline.New(cfg, deps)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", titleStyle.Render(d.Key()))
	if dryRun {
		result, err := runner.DryRun(d.Key())
		if err != nil {
			return err
		}
		result.Steps = result.Steps[from-1 : to]
		printSteps(result, from)
		return nil
	}

	result := runner.RunRange(ctx, d, from, to, force)
	printSteps(result, from)
	for _, step := range result.Steps {
		if step.Err != nil {
			return step.Err
		}
	}
	return nil
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which stages have run for an event",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDemo()
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		runner, err := pipeline.New(cfg, pipeline.Deps{Tables: table.NewXLSXStore(), Runs: db, Log: logger})
		if err != nil {
			return err
		}
		plan, err := runner.Plan(d.Key())
		if err != nil {
			return err
		}
		progress, err := db.Progress(d.Key())
		if err != nil {
			return err
		}
		fmt.Println(renderPlan(d.Key(), plan, progress))
		return nil
	},
}

// --- reconcile command ---

var strict bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Check that every intake record is accounted for",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDemo()
		if err != nil {
			return err
		}
		rep, err := reconcile.Event(ledger.NewFileStore(cfg.LedgerPath()), d.Key())
		if err != nil {
			return err
		}
		fmt.Println(renderReconciliation(rep))
		if strict && !rep.Balanced() {
			return fmt.Errorf("%s does not reconcile (CRM %+d, marketing DB %+d)", rep.Event, rep.CRM.Variance, rep.MDB.Variance)
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when either side has a variance")
}

// --- report command ---

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write the operator communication for an event",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := resolveDemo()
		if err != nil {
			return err
		}
		output := cfg.Paths.Communication
		if output == "" {
			output = d.File(".txt", "Communication")
		}
		composer := report.NewComposer(ledger.NewFileStore(cfg.LedgerPath()), cfg.Paths.Template, output, logger)
		comm, err := composer.Compose(d.Key(), d.Type)
		if err != nil {
			return err
		}
		fmt.Println(comm.Text)
		fmt.Printf("Written to %s and %s\n", comm.TextPath, comm.HTMLPath)
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		srv, err := server.New(ledger.NewFileStore(cfg.LedgerPath()), db, cfg.Paths.Template, logger)
		if err != nil {
			return err
		}
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on (overrides server.port)")
}

// parseDate reads an M/D/YYYY date; empty means today.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		y, m, d := time.Now().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(calendar.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want M/D/YYYY", s)
	}
	return t, nil
}

func resolveDemo() (*demo.Demo, error) {
	date, err := parseDate(dateFlag)
	if err != nil {
		return nil, err
	}
	cal, err := calendar.Load(cfg.Paths.Calendar)
	if err != nil {
		return nil, fmt.Errorf("loading calendar: %w", err)
	}
	if typeFlag == "" {
		if types := cal.TypesOn(date); len(types) > 1 {
			return nil, fmt.Errorf("%d demos are scheduled for %s (%s); pick one with --type",
				len(types), date.Format(calendar.DateLayout), strings.Join(types, ", "))
		}
	}
	return demo.Resolve(cal, date, typeFlag, demo.Options{
		Root: cfg.Paths.Destination,
		Roles: demo.Roles{
			CRMUpload:  cfg.Names.CRMUpload,
			MDBUpload:  cfg.Names.MDBUpload,
			MDBExclude: cfg.Names.MDBExclude,
			CRMExclude: cfg.Names.CRMExclude,
		},
		Ledger: ledger.NewFileStore(cfg.LedgerPath()),
	})
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "demoproc.db")
	return database.Open(dbPath, logger)
}
