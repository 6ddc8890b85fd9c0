package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/config"
	"container-telemetry/loadgen/internal/logging"
)

var (
	version = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Container telemetry load generator",
	Long: `loadgen builds a pool of synthetic container tracker readings, encoded as
ContainerData protobuf messages under a payload ceiling, and replays it
against an ingestion endpoint.

Settings come from the environment (and an optional .env file); flags
override them.

Examples:
  loadgen run --users 250 --run-time 5m        # single process
  loadgen distributed 8                         # 8 worker processes + master
  loadgen inspect                               # size report for one record
  loadgen incremental --max-users 1000          # step users up to 1000
  loadgen sink                                  # reference receiver`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Global flags, applied on top of the environment.
var (
	flagEnvFile     string
	flagHost        string
	flagPath        string
	flagAPIKey      string
	flagUsers       int
	flagSpawnRate   int
	flagRunTime     string
	flagRateLimit   float64
	flagMaxRequests int64
	flagPoolSize    int
	flagMaxPayload  int
	flagRanges      string
	flagNamespace   string
	flagLogLevel    string
	flagDevLogs     bool
	flagRecord      bool
)

// Set by setup for every subcommand.
var (
	cfg    *config.Config
	logger *zap.Logger
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagEnvFile, "env-file", ".env", "Load environment variables from file")
	pf.StringVar(&flagHost, "host", "", "Target base URL (LOADGEN_TARGET_HOST)")
	pf.StringVar(&flagPath, "path", "", "Target path (LOADGEN_TARGET_PATH)")
	pf.StringVar(&flagAPIKey, "api-key", "", "Value for the X-API-Key header (LOADGEN_API_KEY)")
	pf.IntVarP(&flagUsers, "users", "u", 0, "Simulated users per process (LOADGEN_USERS)")
	pf.IntVarP(&flagSpawnRate, "spawn-rate", "r", 0, "Users started per second (LOADGEN_SPAWN_RATE)")
	pf.StringVarP(&flagRunTime, "run-time", "t", "", "Stop after this long, e.g. 90s or 5m (LOADGEN_RUN_SECONDS)")
	pf.Float64Var(&flagRateLimit, "rate-limit", 0, "Requests per second across all users, 0 is unlimited (LOADGEN_RATE_LIMIT)")
	pf.Int64Var(&flagMaxRequests, "max-requests", 0, "Stop after this many requests per process, 0 is unlimited")
	pf.IntVar(&flagPoolSize, "pool-size", 0, "Data pool entries (LOADGEN_DATA_POOL_SIZE)")
	pf.IntVar(&flagMaxPayload, "max-payload", 0, "Exclusive payload ceiling in bytes (LOADGEN_MAX_PAYLOAD_BYTES)")
	pf.StringVar(&flagRanges, "ranges", "", "YAML field range profile (LOADGEN_RANGES_FILE)")
	pf.StringVar(&flagNamespace, "namespace", "", "Redis namespace for distributed runs (LOADGEN_NAMESPACE)")
	pf.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	pf.BoolVar(&flagDevLogs, "dev-logs", false, "Human readable console logs (LOG_DEVELOPMENT)")
	pf.BoolVar(&flagRecord, "record", false, "Write the run summary to TimescaleDB (LOADGEN_RECORD_RESULTS)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(distributedCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(incrementalCmd)
	rootCmd.AddCommand(sinkCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFiles(flagEnvFile); err != nil {
		return err
	}
	cfg = config.Load()
	if err := applyFlags(cmd.Flags(), cfg); err != nil {
		return err
	}

	l, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// applyFlags copies explicitly set flags over the environment values.
func applyFlags(fs *pflag.FlagSet, c *config.Config) error {
	changed := fs.Changed
	if changed("host") {
		c.TargetHost = flagHost
	}
	if changed("path") {
		c.TargetPath = flagPath
	}
	if changed("api-key") {
		c.APIKey = flagAPIKey
	}
	if changed("users") {
		c.Users = flagUsers
	}
	if changed("spawn-rate") {
		c.SpawnRate = flagSpawnRate
	}
	if changed("run-time") {
		d, err := parseRunTime(flagRunTime)
		if err != nil {
			return err
		}
		c.RunDurationSecs = int(d.Seconds())
	}
	if changed("rate-limit") {
		c.RateLimit = flagRateLimit
	}
	if changed("pool-size") {
		c.DataPoolSize = flagPoolSize
	}
	if changed("max-payload") {
		c.MaxPayloadBytes = flagMaxPayload
	}
	if changed("ranges") {
		c.RangesFile = flagRanges
	}
	if changed("namespace") {
		c.Namespace = flagNamespace
	}
	if changed("log-level") {
		c.LogLevel = flagLogLevel
	}
	if changed("dev-logs") {
		c.LogDevelopment = flagDevLogs
	}
	if changed("record") {
		c.RecordResults = flagRecord
	}
	return nil
}

// forwardedFlags renders the explicitly set global flags so child worker
// processes see the same settings.
func forwardedFlags() []string {
	var args []string
	rootCmd.PersistentFlags().Visit(func(f *pflag.Flag) {
		args = append(args, "--"+f.Name+"="+f.Value.String())
	})
	return args
}
