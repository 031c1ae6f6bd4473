package internal

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCacheCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clean the package cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List cached packages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd, gf)
				if err != nil {
					return err
				}
				items, err := a.cache.List()
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, it := range items {
					fmt.Fprintf(tw, "%s:%s\t%s\t%s\n", it.Ref, it.Entry.PackageID, it.Entry.Settings, it.Folder)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "check [name/version[:package_id]]",
			Short: "Verify cached package folders against their recorded hashes",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(cmd, gf)
				if err != nil {
					return err
				}
				items, err := a.cache.List()
				if err != nil {
					return err
				}
				var errs []error
				checked := 0
				for _, it := range items {
					if len(args) == 1 {
						ref, id, err := parsePackageRef(args[0])
						if err != nil {
							return err
						}
						if it.Ref != ref || (id != "" && it.Entry.PackageID != id) {
							continue
						}
					}
					checked++
					if err := a.cache.Check(it.Ref, it.Entry.PackageID); err != nil {
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s:%s ok\n", it.Ref, it.Entry.PackageID)
				}
				if len(args) == 1 && checked == 0 {
					return fmt.Errorf("%s: no cached package", args[0])
				}
				return errors.Join(errs...)
			},
		},
		&cobra.Command{
			Use:   "remove name/version[:package_id]",
			Short: "Remove a package, or every package of a reference, from the cache",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ref, id, err := parsePackageRef(args[0])
				if err != nil {
					return err
				}
				a, err := newApp(cmd, gf)
				if err != nil {
					return err
				}
				return a.cache.Remove(ref, id)
			},
		},
	)
	return cmd
}
