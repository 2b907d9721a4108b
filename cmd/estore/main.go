package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	apperrors "github.com/rohankatakam/entitystore/internal/errors"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	rootDir string
	format  string
	verbose bool
)

// exitError ends the process with code after the command has already
// reported why
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		reportError(os.Stderr, err, verbose)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit status. Critical
// errors (config, store) exit 2.
func exitCode(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	if apperrors.IsFatal(err) {
		return 2
	}
	return 1
}

func reportError(w io.Writer, err error, verbose bool) {
	var exit *exitError
	if errors.As(err, &exit) {
		return
	}
	var e *apperrors.Error
	if verbose && errors.As(err, &e) {
		fmt.Fprint(w, e.DetailedString())
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

var rootCmd = &cobra.Command{
	Use:   "estore",
	Short: "estore - an entity graph embedded in your source files",
	Long: `estore indexes the functions, classes, documents and schemas of a
source tree into a queryable entity graph. Entity metadata lives in
frontmatter blocks inside the files themselves.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .estore/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "workspace root (default: config root)")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "o", "table", "output format: table or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`estore {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(impactCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(frontmatterCmd)
	rootCmd.AddCommand(configCmd)
}
