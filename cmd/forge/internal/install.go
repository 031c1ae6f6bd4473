package internal

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newInstallCmd(gf *globalFlags) *cobra.Command {
	var (
		flags  graphFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "install RECIPE",
		Short: "Install the dependencies of a recipe and generate its build files",
		Long: `Install makes every dependency of RECIPE available in the package cache,
building missing ones according to --build, then writes the toolchain, CMake
package configs and environment scripts for RECIPE into the generators folder
of --output-folder.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, gf)
			if err != nil {
				return err
			}
			if err := a.configure(&flags, false); err != nil {
				return err
			}
			r, err := a.loadRecipe(ctx, args[0])
			if err != nil {
				return err
			}
			g, err := a.resolve(ctx, r, nil)
			if err != nil {
				return err
			}
			inst, err := a.builder.Install(ctx, g, false)
			if err != nil {
				return err
			}
			dir, err := filepath.Abs(output)
			if err != nil {
				return err
			}
			rc, err := a.builder.Local(ctx, g, inst, dir, false)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rc.Folders.Generators)
			return nil
		},
	}
	addGraphFlags(cmd, &flags)
	addOutputFlag(cmd, &output)
	return cmd
}

func newBuildCmd(gf *globalFlags) *cobra.Command {
	var (
		flags  graphFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "build RECIPE",
		Short: "Install the dependencies of a recipe and build it locally",
		Long: `Build runs install for RECIPE and then its build step in --output-folder.
Nothing is packaged and the package cache is left untouched for RECIPE itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, gf)
			if err != nil {
				return err
			}
			if err := a.configure(&flags, false); err != nil {
				return err
			}
			r, err := a.loadRecipe(ctx, args[0])
			if err != nil {
				return err
			}
			g, err := a.resolve(ctx, r, nil)
			if err != nil {
				return err
			}
			inst, err := a.builder.Install(ctx, g, false)
			if err != nil {
				return err
			}
			dir, err := filepath.Abs(output)
			if err != nil {
				return err
			}
			rc, err := a.builder.Local(ctx, g, inst, dir, true)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rc.Folders.Build)
			return nil
		},
	}
	addGraphFlags(cmd, &flags)
	addOutputFlag(cmd, &output)
	return cmd
}

func newSourceCmd(gf *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "source RECIPE",
		Short: "Download the source of a recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, gf)
			if err != nil {
				return err
			}
			r, err := a.loadRecipe(ctx, args[0])
			if err != nil {
				return err
			}
			dir, err := filepath.Abs(output)
			if err != nil {
				return err
			}
			if err := a.builder.Source(ctx, r, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

// addOutputFlag registers --output-folder. The global normalization maps the
// short spelling --of onto it.
func addOutputFlag(cmd *cobra.Command, output *string) {
	cmd.Flags().StringVar(output, "output-folder", ".", "folder the command writes into")
}
