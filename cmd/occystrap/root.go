// Package main implements the occystrap CLI (spec.md §6): the `process`
// and `search` verbs plus the supplemented `inspect-manifest` verb,
// wired against internal/uri for source/dest parsing and pipeline for
// execution.
//
// Grounded on cmd/regctl/root.go's PersistentFlags/PersistentPreRunE
// pattern for global flags and verbosity, and cli/root.go's top-level
// Execute()/os.Exit shape for error-to-exit-code translation.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shakenfist/occystrap/internal/config"
	"github.com/shakenfist/occystrap/internal/errs"
	"github.com/shakenfist/occystrap/internal/uri"
	"github.com/shakenfist/occystrap/types/ref"
)

var log *logrus.Logger

// stdout is the search filter's default match-line destination; a var
// so tests can redirect it.
var stdout io.Writer = os.Stdout

var rootCmd = &cobra.Command{
	Use:           "occystrap <cmd>",
	Short:         "Stream container images between registries, daemons, and on-disk layouts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// rootOpts is filled directly by the persistent flags, then given
// OCCYSTRAP_* env-var fallbacks in rootPreRun via EnvDefaults.
var rootOpts config.Opts

func init() {
	log = &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.WarnLevel,
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&rootOpts.Verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&rootOpts.OS, "os", "", "Platform OS for manifest-list selection")
	pf.StringVar(&rootOpts.Architecture, "architecture", "", "Platform architecture for manifest-list selection")
	pf.StringVar(&rootOpts.Variant, "variant", "", "Platform variant for manifest-list selection")
	pf.StringVar(&rootOpts.Username, "username", "", "Registry username (env OCCYSTRAP_USERNAME)")
	pf.StringVar(&rootOpts.Password, "password", "", "Registry password (env OCCYSTRAP_PASSWORD)")
	pf.BoolVar(&rootOpts.Insecure, "insecure", false, "Allow plain HTTP / skip TLS verification for registry hosts")
	pf.StringVar(&rootOpts.Compression, "compression", "", "Layer compression for registry push: gzip or zstd (env OCCYSTRAP_COMPRESSION)")
	pf.IntVar(&rootOpts.Parallel, "parallel", 0, "Worker pool size for registry fetch/push (0 = component default)")

	rootCmd.PersistentPreRunE = rootPreRun
	rootCmd.AddCommand(processCmd, searchCmd, inspectManifestCmd)
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	rootOpts.EnvDefaults()
	if rootOpts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// applyGlobalFlags overlays the global flags onto the Options the URI
// query string produced; a flag only wins when the URI left the
// corresponding field unset, so "?insecure=true" in the URI is never
// silently clobbered by an unset --insecure flag.
func applyGlobalFlags(o *uri.Options) {
	if rootOpts.Username != "" && o.Username == "" {
		o.Username = rootOpts.Username
	}
	if rootOpts.Password != "" && o.Password == "" {
		o.Password = rootOpts.Password
	}
	if rootOpts.Insecure {
		o.Insecure = true
	}
	if rootOpts.Compression != "" && o.Compression == "" {
		o.Compression = rootOpts.Compression
	}
	if rootOpts.Parallel > 0 && o.MaxWorkers == 0 {
		o.MaxWorkers = rootOpts.Parallel
	}
}

// applyPlatformFlags overlays --os/--architecture/--variant onto r's
// Platform selector when the URI's own query string left it empty, the
// same precedence rule applyGlobalFlags uses for Options.
func applyPlatformFlags(r *ref.Ref) {
	if rootOpts.OS != "" && r.Platform.OS == "" {
		r.Platform.OS = rootOpts.OS
	}
	if rootOpts.Architecture != "" && r.Platform.Architecture == "" {
		r.Platform.Architecture = rootOpts.Architecture
	}
	if rootOpts.Variant != "" && r.Platform.Variant == "" {
		r.Platform.Variant = rootOpts.Variant
	}
}

// exitCode maps a pipeline error to spec.md §6's three-way exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errs.ErrURIParse) {
		return 2
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "occystrap: %v\n", err)
	}
	os.Exit(exitCode(err))
}
