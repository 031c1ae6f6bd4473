package cache

import (
	"fmt"
	"io"
	"slices"

	"github.com/cespare/xxhash"
	"github.com/im3e/forge/mod/module"
	"github.com/im3e/forge/recipe"
)

// PackageID identifies one binary configuration of ref. It changes with the
// selected settings, the option values and the package ids of the host
// requirements, given as "name/version:id".
func PackageID(ref module.Version, settings recipe.Settings, options recipe.Options, requires []string) string {
	h := xxhash.New()
	io.WriteString(h, "ref="+ref.String()+"\n")
	for _, k := range settings.Keys() {
		fmt.Fprintf(h, "settings.%s=%s\n", k, settings[k])
	}
	for _, k := range options.Keys() {
		fmt.Fprintf(h, "options.%s=%s\n", k, options[k])
	}
	reqs := slices.Clone(requires)
	slices.Sort(reqs)
	for _, r := range reqs {
		fmt.Fprintf(h, "requires=%s\n", r)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
