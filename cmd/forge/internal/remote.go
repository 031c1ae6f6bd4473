package internal

import (
	"fmt"
	"path/filepath"

	"github.com/im3e/forge/internal/index"
	"github.com/im3e/forge/internal/vcs"
	"github.com/spf13/cobra"
)

func newRemoteCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage the recipe remote",
	}
	var ref string
	sync := &cobra.Command{
		Use:   "sync URL",
		Short: "Mirror a git repository of recipes into the forge home",
		Long: `Sync fetches URL at --ref into the index folder of the forge home. Recipes
found there are searched after the --recipes paths.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, gf)
			if err != nil {
				return err
			}
			r := index.Remote{URL: args[0], Ref: ref, Dir: filepath.Join(a.home, indexDir)}
			head, err := r.Sync(cmd.Context(), vcs.NewGitVCS())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", r.Dir, head)
			return nil
		},
	}
	sync.Flags().StringVar(&ref, "ref", "", "branch or tag to sync (default: the remote HEAD)")
	cmd.AddCommand(sync)
	return cmd
}
