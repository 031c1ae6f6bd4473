package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/im3e/forge/internal/resolve"
	"github.com/im3e/forge/recipe"
	"github.com/spf13/cobra"
)

func newGraphCmd(gf *globalFlags) *cobra.Command {
	var (
		flags  graphFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "graph RECIPE",
		Short: "Print the resolved dependency graph of a recipe",
		Args:  cobra.ExactArgs(1),
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
			order, err := g.Order()
			if err != nil {
				return err
			}
			switch format {
			case "text":
				return writeGraphText(cmd.OutOrStdout(), order)
			case "json":
				return writeGraphJSON(cmd.OutOrStdout(), order)
			}
			return fmt.Errorf("unknown format %q: want text or json", format)
		},
	}
	addGraphFlags(cmd, &flags)
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

// graphNode is the JSON form of a resolved node.
type graphNode struct {
	Ref          string          `json:"ref"`
	Context      resolve.Context `json:"context"`
	Settings     recipe.Settings `json:"settings,omitempty"`
	Options      recipe.Options  `json:"options,omitempty"`
	Requires     []string        `json:"requires,omitempty"`
	ToolRequires []string        `json:"tool_requires,omitempty"`
}

func nodeJSON(n *resolve.Node) graphNode {
	out := graphNode{
		Ref:      n.Ref.String(),
		Context:  n.Context,
		Settings: n.Settings,
		Options:  n.Options,
	}
	for _, e := range n.Requires {
		out.Requires = append(out.Requires, requireString(e))
	}
	for _, t := range n.ToolRequires {
		out.ToolRequires = append(out.ToolRequires, t.Ref.String())
	}
	return out
}

func requireString(e *resolve.Edge) string {
	if len(e.Components) == 0 {
		return e.Node.Ref.String()
	}
	return e.Node.Ref.String() + "[" + strings.Join(e.Components, ",") + "]"
}

func writeGraphJSON(w io.Writer, order []*resolve.Node) error {
	nodes := make([]graphNode, len(order))
	for i, n := range order {
		nodes[i] = nodeJSON(n)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(nodes)
}

// writeGraphText prints one node per line, dependencies first, followed by
// its indented requirements.
func writeGraphText(w io.Writer, order []*resolve.Node) error {
	for _, n := range order {
		if _, err := fmt.Fprintln(w, n); err != nil {
			return err
		}
		if len(n.Options) > 0 {
			fmt.Fprintf(w, "    options: %s\n", n.Options)
		}
		for _, e := range n.Requires {
			fmt.Fprintf(w, "    requires %s\n", requireString(e))
		}
		for _, t := range n.ToolRequires {
			fmt.Fprintf(w, "    tool_requires %s\n", t.Ref)
		}
	}
	return nil
}
