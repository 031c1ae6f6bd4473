package internal

import (
	"context"
	"os"

	"github.com/im3e/forge/internal/ctxlog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// globalFlags are shared by every command.
type globalFlags struct {
	home      string
	recipes   []string
	logLevel  string
	logFormat string
	verbose   bool
}

// NewRootCmd returns the forge command tree.
func NewRootCmd() *cobra.Command {
	gf := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "forge",
		Short:         "forge builds native libraries from recipes",
		Long:          `forge resolves the dependencies of a recipe, fetches and builds them into a local package cache, and generates the files a consumer build needs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := ctxlog.New(gf.logLevel, gf.logFormat, cmd.ErrOrStderr())
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&gf.home, "home", "", "forge home directory (default $FORGE_HOME or the user cache dir)")
	flags.StringArrayVar(&gf.recipes, "recipes", nil, "additional recipe search path, highest priority first")
	flags.StringVar(&gf.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&gf.logFormat, "log-format", "text", "log format: text or json")
	flags.BoolVarP(&gf.verbose, "verbose", "v", false, "show the output of build tools")
	rootCmd.SetGlobalNormalizationFunc(normalizeFlag)

	rootCmd.AddCommand(
		newCreateCmd(gf),
		newInstallCmd(gf),
		newBuildCmd(gf),
		newSourceCmd(gf),
		newGraphCmd(gf),
		newCacheCmd(gf),
		newRemoteCmd(gf),
	)
	return rootCmd
}

// normalizeFlag maps the short long-flag spellings to their names.
func normalizeFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "of":
		name = "output-folder"
	case "pr":
		name = "profile"
	}
	return pflag.NormalizedName(name)
}

// Execute runs the forge command and exits non-zero on failure.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
