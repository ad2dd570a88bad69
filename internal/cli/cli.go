// Package cli provides the qserv-master command-line interface: query
// execution/explain/validate, worker/catalog diagnostics, and version
// reporting, per spec.md §6's client surface.
//
// Grounded on the teacher's internal/cli/cli.go: a CLI struct owning a
// cobra root command, persistent global flags, quiet/debug/json output
// helpers, and a PersistentPreRunE that loads configuration once before
// any subcommand runs.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/qserv/qserv/internal/auth"
	"github.com/qserv/qserv/internal/bootstrap"
	"github.com/qserv/qserv/internal/catalog"
	"github.com/qserv/qserv/internal/config"
	qerrors "github.com/qserv/qserv/internal/errors"
	"github.com/qserv/qserv/internal/observability"
	"github.com/qserv/qserv/internal/qdriver"
	qservsql "github.com/qserv/qserv/internal/sql"
	"github.com/qserv/qserv/internal/storage"
	"github.com/qserv/qserv/internal/workerdb"
)

// Exit codes, matching internal/errors.ErrorCode so a caller can script
// against them directly.
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitAuth       = 2
	ExitEngine     = 3
	ExitInternal   = 4
	ExitDispatch   = 5
)

// Version information (set at build time via SetVersionInfo).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// CLI holds the command-line interface state.
type CLI struct {
	rootCmd *cobra.Command

	cfg      *config.MasterConfig
	topology *bootstrap.Config
	catalog  catalog.Catalog
	secIndex catalog.SecondaryIndex
	driver   *qdriver.Driver
	result   *workerdb.Engine

	// Global flags
	configPath   string
	topologyPath string
	endpoint     string
	token        string
	jsonOutput   bool
	quiet        bool
	debug        bool
}

// New creates a new CLI instance.
func New() *CLI {
	cli := &CLI{}
	cli.rootCmd = cli.newRootCmd()
	return cli
}

// Execute runs the CLI.
func (c *CLI) Execute() int {
	if err := c.rootCmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return ExitSuccess
}

func (c *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qserv-master",
		Short: "Qserv master — distributed spatial-join query client",
		Long: `qserv-master is the command-line client for Qserv, a distributed
shared-nothing analytic SQL engine for spatial-join and aggregation queries
over partitioned astronomical catalogs.

It drives the same QuerySession/Executive pipeline the master daemon runs:
query parsing and plugin-pipeline rewriting, per-chunk dispatch to the
worker fleet named in the topology file, and merge-phase result assembly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "master config file (default: ~/.qserv/qserv-master.yaml)")
	cmd.PersistentFlags().StringVar(&c.topologyPath, "topology", "", "chunk/database topology file (default: from config auth.topology)")
	cmd.PersistentFlags().StringVar(&c.endpoint, "endpoint", "", "frontend dispatch endpoint override")
	cmd.PersistentFlags().StringVar(&c.token, "token", "", "capability token (overrides config)")
	cmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "machine-readable JSON output")
	cmd.PersistentFlags().BoolVar(&c.quiet, "quiet", false, "suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "verbose debug logs")

	cmd.AddCommand(c.newQueryCmd())
	cmd.AddCommand(c.newStatusCmd())
	cmd.AddCommand(c.newDoctorCmd())
	cmd.AddCommand(c.newVersionCmd())

	return cmd
}

func (c *CLI) initConfig() error {
	cfg, err := config.LoadMaster(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg
	if c.endpoint != "" {
		c.cfg.Frontend.Xrootd = c.endpoint
	}
	if c.token != "" {
		c.cfg.Auth.Token = c.token
	}

	topoPath := c.topologyPath
	if topoPath == "" {
		topoPath = c.cfg.Auth.Topology
	}
	if topoPath == "" {
		// No topology configured yet: diagnostics still run, but query
		// commands will fail fast with a clear error.
		c.catalog = catalog.NewStaticCatalog()
		return nil
	}
	topo, err := bootstrap.Load(topoPath)
	if err != nil {
		return err
	}
	if err := topo.Validate(); err != nil {
		return err
	}
	c.topology = topo

	if c.cfg.CSS.Technology == "postgres" {
		cat, secIdx, err := c.openPostgresCatalog()
		if err != nil {
			return err
		}
		c.catalog = cat
		c.secIndex = secIdx
	} else {
		cat := catalog.NewStaticCatalog()
		if err := topo.Apply(cat); err != nil {
			return err
		}
		c.catalog = cat
	}

	engine, err := workerdb.Open(workerdb.Config{Engine: workerdb.EngineSQLite, DatabasePath: ":memory:"})
	if err != nil {
		return fmt.Errorf("cli: opening local merge engine: %w", err)
	}
	c.result = engine

	c.driver = qdriver.New(qservsql.NewParser(), c.catalog, c.topology, c.cfg, c.result)
	c.driver.SecIndex = c.secIndex

	if c.debug {
		c.driver.Logger = observability.NewJSONLogger(os.Stderr)
	}

	if c.cfg.Auth.Token != "" {
		validator := auth.NewStaticValidator()
		validator.Register(c.cfg.Auth.Token, "qserv-master-cli", time.Time{})
		c.driver.Auth = validator
	}

	return nil
}

// openPostgresCatalog opens the css.connection DSN, applies any pending
// schema migrations, and returns a catalog backed by the live database
// rather than the static topology file, per css.technology=postgres.
func (c *CLI) openPostgresCatalog() (*catalog.PostgresCatalog, *catalog.PostgresIndex, error) {
	db, err := sql.Open("postgres", c.cfg.CSS.Connection)
	if err != nil {
		return nil, nil, fmt.Errorf("cli: opening css database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storage.NewMigrationRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("cli: running css migrations: %w", err)
	}

	return catalog.NewPostgresCatalog(db), catalog.NewPostgresIndex(db), nil
}

// exitCodeFor maps the typed error kinds of spec.md §7 to a process exit
// code, since this package's errors don't carry an ExitCode method of
// their own (internal/errors is shared with the worker, which has no
// notion of a CLI exit code).
func exitCodeFor(err error) int {
	switch err.(type) {
	case *qerrors.ErrParse, *qerrors.ErrAnalysis:
		return ExitValidation
	case *qerrors.ErrAuth:
		return ExitAuth
	case *qerrors.ErrEngine:
		return ExitEngine
	case *qerrors.ErrProvision, *qerrors.ErrStream, *qerrors.ErrResult, *qerrors.ErrResource:
		return ExitDispatch
	default:
		return ExitInternal
	}
}

// Helper functions for output.

func (c *CLI) printf(format string, args ...interface{}) {
	if !c.quiet {
		fmt.Printf(format, args...)
	}
}

func (c *CLI) println(args ...interface{}) {
	if !c.quiet {
		fmt.Println(args...)
	}
}

func (c *CLI) errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
}

func (c *CLI) debugf(format string, args ...interface{}) {
	if c.debug {
		fmt.Printf("[DEBUG] "+format, args...)
	}
}
