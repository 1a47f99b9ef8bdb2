// Command zskl converts fitted estimator descriptions into operator graphs
// serialized as ZMF.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zerfoo/zskl/internal/config"
)

type app struct {
	cfg     config.Config
	logger  *slog.Logger
	logFile *os.File
	logPath string
}

func main() {
	a := &app{}
	if err := execute(a, newRootCmd(a)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs cmd and closes the log file whether or not the command
// succeeded. Cobra skips post-run hooks when RunE fails.
func execute(a *app, cmd *cobra.Command) error {
	err := cmd.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "zskl",
		Short:         "Convert fitted estimators into ZMF operator graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.logPath, "log-file", "", "Path of the log file (default $ZSKL_LOG_FILE or zskl.log)")

	rootCmd.AddCommand(
		newConvertCmd(a),
		newInspectCmd(a),
		newVerifyCmd(a),
		newDownloadCmd(a),
	)
	return rootCmd
}

// setup loads the configuration and opens the log file.
func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.logPath == "" {
		a.logPath = cfg.LogFile
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(a.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	a.logFile = f
	a.logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) close() error {
	if a.logFile == nil {
		return nil
	}
	err := a.logFile.Close()
	a.logFile = nil
	if err != nil {
		return fmt.Errorf("error closing log file: %w", err)
	}
	return nil
}
