package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reconstructor/internal/refdata"
)

const envPrefix = "RECONSTRUCTOR"

// app carries state shared by the subcommands of one invocation.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}
	var cfgFile string

	root := &cobra.Command{
		Use:           "reconstructor",
		Short:         "Genome-scale metabolic network reconstruction",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd, cfgFile)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(newBuildCommand(a), newRefdataCommand(a), newDoctorCommand(a))
	return root
}

// init loads the optional config file, binds the command's flags and the
// RECONSTRUCTOR_* environment, and builds the logger.
func (a *app) init(cmd *cobra.Command, cfgFile string) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.v.GetString("log-level"))); err != nil {
		return fmt.Errorf("invalid log level %q", a.v.GetString("log-level"))
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

// refdataSettings reads the reference data backend from config or
// environment, using the same keys as refdata.SettingsFromEnv.
func (a *app) refdataSettings() refdata.Settings {
	driver := a.v.GetString("refdata_driver")
	if driver == "" {
		driver = string(refdata.DriverFile)
	}
	return refdata.Settings{
		Driver:      refdata.Driver(driver),
		Dir:         a.v.GetString("refdata_dir"),
		SQLitePath:  a.v.GetString("sqlite_path"),
		PostgresDSN: a.v.GetString("postgres_dsn"),
	}
}
