package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ldew/stride/internal/bus"
	"github.com/ldew/stride/internal/config"
	"github.com/ldew/stride/internal/engine"
	"github.com/ldew/stride/internal/habits"
	"github.com/ldew/stride/internal/mcp"
	"github.com/ldew/stride/internal/server"
	"github.com/ldew/stride/internal/store"
	"github.com/ldew/stride/internal/summary"
	"github.com/ldew/stride/pkg/models"
)

var (
	dbPath  string
	verbose bool
	log     *logrus.Logger
	cfg     config.Config
)

func main() {
	flag.StringVar(&dbPath, "db-path", "", "Path to database file (overrides STRIDE_DB_PATH)")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	log = config.NewLogger("info")
	cfg = config.Load(log)
	if verbose {
		cfg.LogLevel = "debug"
	}
	log.SetLevel(parseLevel(cfg.LogLevel))
	if dbPath == "" {
		dbPath = cfg.DBPath
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "init":
		err = runInit(args)
	case "mcp":
		err = runMCP(args)
	case "serve":
		err = runServe(args)
	case "sweep":
		err = runSweep(args)
	case "status":
		err = runStatus(args)
	case "list-tasks":
		err = runListTasks(args)
	case "list-templates":
		err = runListTemplates(args)
	case "summary":
		err = runSummary(args)
	case "events":
		err = runEvents(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: stride [flags] <command>")
	fmt.Println("\nCommands:")
	fmt.Println("  init            Initialize the database")
	fmt.Println("  mcp             Serve the MCP tool interface on stdio")
	fmt.Println("  serve           Serve the read-only HTTP API")
	fmt.Println("  sweep           Run the daily habit sweep")
	fmt.Println("  status          Show collection counts")
	fmt.Println("  list-tasks      List tasks")
	fmt.Println("  list-templates  List habit templates")
	fmt.Println("  summary         Send the daily email summary")
	fmt.Println("  events          Inspect the event log")
}

// openEngine builds the full core: store, bus, reconciler, generator.
// The reconciler's initial load has already run when it returns.
func openEngine(ctx context.Context) (*store.Store, *bus.Bus, *engine.Reconciler, *habits.Generator, error) {
	st, err := store.Open(dbPath, log)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := st.Init(ctx); err != nil {
		st.Close()
		return nil, nil, nil, nil, err
	}

	b := bus.New(st, log)
	rec := engine.New(st, b, log)
	gen := habits.NewGenerator(st, b, log)
	rec.Load(ctx)

	return st, b, rec, gen, nil
}

func runInit(args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	strideDir := filepath.Join(targetDir, ".stride")
	if err := os.MkdirAll(strideDir, 0755); err != nil {
		return fmt.Errorf("failed to create .stride directory: %w", err)
	}
	fmt.Println("✓ Created .stride/ directory")

	finalDBPath := dbPath
	if dbPath == ".stride/stride.db" {
		finalDBPath = filepath.Join(strideDir, "stride.db")
	}

	st, err := store.Open(finalDBPath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	fmt.Printf("✓ Initialized database at %s\n", finalDBPath)

	return nil
}

func runMCP(args []string) error {
	ctx := context.Background()
	st, b, rec, gen, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer rec.Close()
	defer gen.Close()

	s := mcp.NewServer(b, rec, gen)
	return mcp.Serve(s)
}

func runServe(args []string) error {
	serveFlags := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := serveFlags.String("port", "8000", "Port to listen on")
	if err := serveFlags.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, _, rec, gen, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer rec.Close()
	defer gen.Close()

	// Background consistency backstop.
	go func() {
		if err := rec.Run(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Warn("reconciler stopped")
		}
	}()

	srv := server.NewServer(rec, st)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("port", *port).Info("serving read-only API")
	if err := srv.Start(fmt.Sprintf(":%s", *port)); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func runSweep(args []string) error {
	ctx := context.Background()
	st, _, rec, gen, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer rec.Close()
	defer gen.Close()

	created := gen.Sweep(ctx)
	fmt.Printf("✓ Sweep complete, %d task(s) created\n", created)
	return nil
}

func runStatus(args []string) error {
	ctx := context.Background()
	st, _, rec, gen, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer rec.Close()
	defer gen.Close()

	active := rec.ActiveTasks()
	completed := rec.CompletedTasks()
	templates := rec.Templates()

	fmt.Println("Stride Status")
	fmt.Println("=============")
	fmt.Printf("Active Tasks:    %d\n", len(active))
	fmt.Printf("Completed Tasks: %d\n", len(completed))
	fmt.Printf("Templates:       %d\n", len(templates))

	statusCounts := make(map[models.TaskStatus]int)
	for _, t := range active {
		statusCounts[t.Status]++
	}

	fmt.Println("\nActive Breakdown:")
	fmt.Printf("  Pending:     %d\n", statusCounts[models.TaskStatusPending])
	fmt.Printf("  Started:     %d\n", statusCounts[models.TaskStatusStarted])
	fmt.Printf("  In Progress: %d\n", statusCounts[models.TaskStatusInProgress])
	fmt.Printf("  Delayed:     %d\n", statusCounts[models.TaskStatusDelayed])

	return nil
}

func runListTasks(args []string) error {
	taskFlags := flag.NewFlagSet("list-tasks", flag.ContinueOnError)
	completedOnly := taskFlags.Bool("completed", false, "List completed tasks instead of active")
	if err := taskFlags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	st, _, rec, gen, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer rec.Close()
	defer gen.Close()

	tasks := rec.ActiveTasks()
	if *completedOnly {
		tasks = rec.CompletedTasks()
	}

	fmt.Printf("%-36s %-30s %-12s %-12s\n", "ID", "NAME", "KIND", "STATUS")
	fmt.Println("--------------------------------------------------------------------------------------------")
	for _, t := range tasks {
		fmt.Printf("%-36s %-30s %-12s %-12s\n", t.ID, t.Name, t.Kind, t.Status)
	}
	return nil
}

func runListTemplates(args []string) error {
	ctx := context.Background()
	st, _, rec, gen, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer rec.Close()
	defer gen.Close()

	fmt.Printf("%-36s %-20s %-20s %-7s\n", "ID", "NAME", "DAYS", "HABITS")
	fmt.Println("--------------------------------------------------------------------------------------")
	for _, tpl := range rec.Templates() {
		days := ""
		for i, d := range tpl.ActiveDays {
			if i > 0 {
				days += ","
			}
			days += d
		}
		fmt.Printf("%-36s %-20s %-20s %-7d\n", tpl.ID, tpl.Name, days, len(tpl.Habits))
	}
	return nil
}

func runSummary(args []string) error {
	ctx := context.Background()
	st, _, rec, gen, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer rec.Close()
	defer gen.Close()

	mailer, err := summary.NewMailer(cfg.SMTP)
	if err != nil {
		return err
	}

	now := time.Now()
	var completedToday []models.Task
	for _, t := range rec.CompletedTasks() {
		if t.CompletedAt != nil && sameDay(*t.CompletedAt, now) {
			completedToday = append(completedToday, t)
		}
	}

	if err := mailer.Send(now, completedToday, rec.ActiveTasks()); err != nil {
		return err
	}
	fmt.Println("✓ Summary sent")
	return nil
}

func runEvents(args []string) error {
	eventFlags := flag.NewFlagSet("events", flag.ContinueOnError)
	limit := eventFlags.Int("limit", 50, "Maximum entries to show")
	markProcessed := eventFlags.Bool("mark", false, "Mark the listed entries as processed")
	clear := eventFlags.Bool("clear", false, "Clear the event log")
	if err := eventFlags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	st, err := store.Open(dbPath, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		return err
	}

	if *clear {
		if err := st.ClearEventLog(ctx); err != nil {
			return err
		}
		fmt.Println("✓ Event log cleared")
		return nil
	}

	records, err := st.FetchUnprocessed(ctx, *limit)
	if err != nil {
		return err
	}

	fmt.Printf("%-36s %-28s %-20s\n", "ID", "TYPE", "AT")
	fmt.Println("--------------------------------------------------------------------------------------")
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		fmt.Printf("%-36s %-28s %-20s\n", rec.ID, rec.Type, rec.CreatedAt.Format(time.RFC3339))
		ids = append(ids, rec.ID)
	}

	if *markProcessed && len(ids) > 0 {
		if err := st.MarkProcessed(ctx, ids); err != nil {
			return err
		}
		fmt.Printf("✓ Marked %d event(s) processed\n", len(ids))
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func parseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}
