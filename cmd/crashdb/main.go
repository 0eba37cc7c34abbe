// Command crashdb manages the sqlite store: importing FARS CSV tables,
// schema migrations, listing recorded runs, and serving the debug UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/crashrisk/internal/config"
	"github.com/banshee-data/crashrisk/internal/db"
	"github.com/banshee-data/crashrisk/internal/fars"
	"github.com/banshee-data/crashrisk/internal/fsutil"
	"github.com/banshee-data/crashrisk/internal/monitoring"
	"github.com/banshee-data/crashrisk/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("crashdb: %v", err)
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "Usage: crashdb [-db path] <command> [args]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  import [-data dir]   Import df_accident/df_vehicle/df_person CSVs")
	fmt.Fprintln(out, "  migrate <action>     Manage schema migrations (see 'migrate help')")
	fmt.Fprintln(out, "  runs [run-id]        List recorded runs, or the estimates of one run")
	fmt.Fprintln(out, "  serve [-listen addr] Serve tailsql and debug pages under /debug/")
	fmt.Fprintln(out, "  version              Print version")
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	env := config.LoadEnv()
	fl := flag.NewFlagSet("crashdb", flag.ContinueOnError)
	fl.SetOutput(stdout)
	fl.Usage = func() { usage(stdout) }
	dbPath := fl.String("db", env.DBPath, "path to the sqlite database")
	if err := fl.Parse(args); err != nil {
		return err
	}
	if fl.NArg() < 1 {
		usage(stdout)
		return errors.New("missing command")
	}

	cmd, rest := fl.Arg(0), fl.Args()[1:]
	switch cmd {
	case "import":
		return runImport(ctx, *dbPath, env.DataDir, rest, stdout)
	case "migrate":
		return db.RunMigrateCommand(rest, *dbPath, stdout)
	case "runs":
		return runRuns(ctx, *dbPath, rest, stdout)
	case "serve":
		return runServe(ctx, *dbPath, rest, stdout)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	usage(stdout)
	return fmt.Errorf("unknown command %q", cmd)
}

func runImport(ctx context.Context, dbPath, defaultDir string, args []string, stdout io.Writer) error {
	fl := flag.NewFlagSet("import", flag.ContinueOnError)
	fl.SetOutput(stdout)
	dataDir := fl.String("data", defaultDir, "directory holding the FARS CSV tables")
	if err := fl.Parse(args); err != nil {
		return err
	}

	done := monitoring.Stage("import " + *dataDir)
	tables, err := fars.LoadDir(fsutil.OSFileSystem{}, *dataDir)
	if err != nil {
		return err
	}
	store, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.ImportTables(ctx, tables); err != nil {
		return err
	}
	done()
	fmt.Fprintf(stdout, "imported %d crashes for years %v into %s\n", len(tables.Crashes), tables.Years(), dbPath)
	return nil
}

func runRuns(ctx context.Context, dbPath string, args []string, stdout io.Writer) error {
	store, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	if len(args) == 0 {
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "RUN\tCREATED\tVERSION")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.CreatedAt.Format(time.RFC3339), r.Version)
		}
		return nil
	}

	recs, err := store.RunEstimates(ctx, args[0])
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("no estimates for run %s", args[0])
	}
	fmt.Fprintln(w, "KIND\tWINDOW\tTHRESHOLD\tPARAMETER\tVALUE\tSE")
	for _, e := range recs {
		fmt.Fprintf(w, "%s\t%d-%d\t%g\t%s\t%.6g\t%.6g\n", e.Kind, e.Start, e.End, e.Threshold, e.Parameter, e.Value, e.StdErr)
	}
	return nil
}

func runServe(ctx context.Context, dbPath string, args []string, stdout io.Writer) error {
	fl := flag.NewFlagSet("serve", flag.ContinueOnError)
	fl.SetOutput(stdout)
	listen := fl.String("listen", "localhost:8080", "listen address")
	if err := fl.Parse(args); err != nil {
		return err
	}

	store, err := db.NewDB(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	mux := http.NewServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		return err
	}
	server := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("serving %s on http://%s/debug/", dbPath, *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		return server.Close()
	}
	return nil
}
