package internal

import (
	"fmt"

	"github.com/im3e/forge/internal/ctxlog"
	"github.com/im3e/forge/internal/recipefile"
	"github.com/im3e/forge/internal/resolve"
	"github.com/im3e/forge/recipe"
	"github.com/spf13/cobra"
)

func newCreateCmd(gf *globalFlags) *cobra.Command {
	var (
		flags      graphFlags
		testFolder string
	)
	cmd := &cobra.Command{
		Use:   "create RECIPE",
		Short: "Build a recipe and its dependencies into the package cache",
		Long: `Create resolves RECIPE, a recipe file, a directory holding a recipe.hcl
or a reference from the recipe index, builds every missing package of its
graph and stores the result in the package cache.

With --test-folder the test recipe in that folder is then built against the
created package and its test command is run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(cmd, gf)
			if err != nil {
				return err
			}
			if err := a.configure(&flags, true); err != nil {
				return err
			}
			r, err := a.loadRecipe(ctx, args[0])
			if err != nil {
				return err
			}
			var tr *recipe.Recipe
			if testFolder != "" {
				if tr, err = recipefile.Load(ctx, testFolder); err != nil {
					return err
				}
			}
			for _, host := range a.hosts {
				a.host = host
				if err := a.create(cmd, r, tr); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addGraphFlags(cmd, &flags)
	cmd.Flags().StringVar(&testFolder, "test-folder", "", "folder of the test recipe run against the created package")
	return cmd
}

// create builds r for the current host configuration and runs the test
// recipe tr against it when tr is not nil.
func (a *app) create(cmd *cobra.Command, r, tr *recipe.Recipe) error {
	ctx := cmd.Context()
	g, err := a.resolve(ctx, r, nil)
	if err != nil {
		return err
	}
	inst, err := a.builder.Install(ctx, g, true)
	if err != nil {
		return err
	}
	pkg := inst[g.Root]
	fmt.Fprintf(cmd.OutOrStdout(), "%s:%s %s\n", r.Ref(), pkg.PackageID, pkg.Folder)
	if tr == nil {
		return nil
	}

	ref := r.Ref()
	tg, err := a.resolve(ctx, tr, &ref)
	if err != nil {
		return err
	}
	tinst, err := a.builder.Install(ctx, tg, false)
	if err != nil {
		return err
	}
	if got := tinst[tg.Node(resolve.Host, ref.Name)]; got == nil || got.PackageID != pkg.PackageID {
		return fmt.Errorf("test recipe %s does not use the created package %s:%s", tr.Ref(), ref, pkg.PackageID)
	}
	ctxlog.FromContext(ctx).Info("Testing package.", "ref", ref, "test", tr.Ref(), "settings", a.host)
	return a.builder.Test(ctx, tg, tinst, a.host, a.buildConfig)
}
