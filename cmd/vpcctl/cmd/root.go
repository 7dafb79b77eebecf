package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mulgadc/vpcctl/vpcctl/auditlog"
	"github.com/mulgadc/vpcctl/vpcctl/config"
	"github.com/mulgadc/vpcctl/vpcctl/driver"
	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
	"github.com/mulgadc/vpcctl/vpcctl/flock"
	"github.com/mulgadc/vpcctl/vpcctl/reconciler"
	"github.com/mulgadc/vpcctl/vpcctl/store"
)

var (
	cfgFile   string
	appConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vpcctl",
	Short: "vpcctl - host-local VPC control plane",
	Long: `vpcctl reproduces cloud VPC semantics on a single Linux host using
network namespaces, veth pairs, bridges, routes and NAT/filter rules.
Declared VPCs, subnets, peerings and firewall policies are persisted under
/etc/vpcctl and reconciled into kernel state.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command, runs it, and exits
// with the code for the error kind.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(errdefs.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default /etc/vpcctl/config.toml)")
	viper.BindEnv("config", "VPCCTL_CONFIG_PATH")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.PersistentFlags().String("state-dir", "", "state directory (overrides config file and env)")
	viper.BindEnv("state-dir", "VPCCTL_STATE_DIR")
	viper.BindPFlag("state-dir", rootCmd.PersistentFlags().Lookup("state-dir"))

	rootCmd.PersistentFlags().String("log-path", "", "audit log path (overrides config file and env)")
	viper.BindEnv("log-path", "VPCCTL_LOG_PATH")
	viper.BindPFlag("log-path", rootCmd.PersistentFlags().Lookup("log-path"))

	rootCmd.PersistentFlags().Duration("lock-timeout", 0, "advisory lock timeout (overrides config file and env)")
	viper.BindEnv("lock-timeout", "VPCCTL_LOCK_TIMEOUT")
	viper.BindPFlag("lock-timeout", rootCmd.PersistentFlags().Lookup("lock-timeout"))

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	viper.BindEnv("debug", "VPCCTL_DEBUG")
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

// initConfig reads the config file and environment, then applies flag
// overrides.
func initConfig() {
	path := cfgFile
	if path == "" {
		path = viper.GetString("config")
	}
	if path == "" {
		path = config.DefaultStateDir + "/config.toml"
	}

	var err error
	appConfig, err = config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		fmt.Fprintln(os.Stderr, "Continuing with environment variables and defaults...")
		appConfig = &config.Config{StateDir: config.DefaultStateDir, LockTimeout: config.DefaultLockTimeout}
		appConfig.LogPath = appConfig.StateDir + "/" + config.DefaultLogName
		appConfig.LockPath = appConfig.StateDir + "/" + config.DefaultLockName
	}

	if v := viper.GetString("state-dir"); v != "" {
		appConfig.StateDir = v
		appConfig.LogPath = v + "/" + config.DefaultLogName
		appConfig.LockPath = v + "/" + config.DefaultLockName
	}
	if v := viper.GetString("log-path"); v != "" {
		appConfig.LogPath = v
	}
	if v := viper.GetDuration("lock-timeout"); v > 0 {
		appConfig.LockTimeout = v
	}
	if viper.GetBool("debug") {
		appConfig.Debug = true
	}

	level := slog.LevelInfo
	if appConfig.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// signalContext cancels on SIGINT/SIGTERM so plans abort at the next
// primitive boundary and reverse cleanup runs before exit.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runMutating wires the standard invocation plumbing for a mutating
// command: advisory lock, audit log, live driver, store, reconciler.
func runMutating(command string, fn func(ctx context.Context, rec *reconciler.Reconciler) error) error {
	ctx, stop := signalContext()
	defer stop()

	lock, err := flock.Acquire(appConfig.LockPath, appConfig.LockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	audit, auditErr := auditlog.Open(appConfig.LogPath)
	if auditErr != nil {
		slog.Warn("Audit log unavailable", "path", appConfig.LogPath, "err", auditErr)
	}
	defer audit.Close()

	rec := reconciler.New(store.New(appConfig.StateDir), driver.NewExecDriver(audit))

	start := time.Now()
	err = fn(ctx, rec)
	audit.Outcome(command, err)
	slog.Debug("Command finished", "command", command, "elapsed", time.Since(start), "err", err)
	return err
}
