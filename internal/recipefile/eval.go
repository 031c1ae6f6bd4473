package recipefile

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/im3e/forge/recipe"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// isExprDefined reports whether an optional attribute was present in the
// source. gohcl fills an absent hcl.Expression field with a zero-width
// placeholder that evaluates to null.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	rng := expr.Range()
	return rng.End.Byte > rng.Start.Byte
}

var functions = map[string]function.Function{
	"coalesce": stdlib.CoalesceFunc,
	"concat":   stdlib.ConcatFunc,
	"contains": stdlib.ContainsFunc,
	"format":   stdlib.FormatFunc,
	"join":     stdlib.JoinFunc,
	"lower":    stdlib.LowerFunc,
	"upper":    stdlib.UpperFunc,
}

// evalContext exposes the pipeline run to recipe expressions:
//
//	name, version                 the reference being built
//	options.<name>                option values, null when None
//	settings["compiler.version"]  the recipe's settings
//	deps.<name>.package_folder    installed dependencies referenced by exprs
//	source_folder, build_folder, generators_folder, package_folder
//
// Every dependency referenced by exprs must be installed; otherwise the
// error wraps recipe.ErrNotInstalled.
func evalContext(rc *recipe.Context, exprs ...hcl.Expression) (*hcl.EvalContext, error) {
	deps, err := referencedDeps(rc, exprs...)
	if err != nil {
		return nil, err
	}

	opts := make(map[string]cty.Value)
	if rc.Recipe != nil {
		for name := range rc.Recipe.Options {
			opts[name] = cty.NullVal(cty.String)
		}
	}
	for name, v := range rc.Options {
		if v.IsSet() {
			opts[name] = cty.StringVal(string(v))
		} else {
			opts[name] = cty.NullVal(cty.String)
		}
	}
	settings := make(map[string]cty.Value, len(rc.Settings))
	for k, v := range rc.Settings {
		settings[k] = cty.StringVal(v)
	}
	depVals := make(map[string]cty.Value, len(deps))
	for name, d := range deps {
		depVals[name] = cty.ObjectVal(map[string]cty.Value{
			"package_folder": cty.StringVal(d.Folder),
			"package_id":     cty.StringVal(d.PackageID),
			"version":        cty.StringVal(d.Ref.Version),
		})
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"name":              cty.StringVal(rc.Ref.Name),
			"version":           cty.StringVal(rc.Ref.Version),
			"options":           cty.ObjectVal(opts),
			"settings":          cty.ObjectVal(settings),
			"deps":              cty.ObjectVal(depVals),
			"source_folder":     cty.StringVal(rc.Folders.Source),
			"build_folder":      cty.StringVal(rc.Folders.Build),
			"generators_folder": cty.StringVal(rc.Folders.Generators),
			"package_folder":    cty.StringVal(rc.Folders.Package),
		},
		Functions: functions,
	}, nil
}

// referencedDeps looks up every deps.<name> traversal of exprs in rc.
func referencedDeps(rc *recipe.Context, exprs ...hcl.Expression) (map[string]*recipe.Installed, error) {
	out := make(map[string]*recipe.Installed)
	for _, expr := range exprs {
		if !isExprDefined(expr) {
			continue
		}
		for _, tr := range expr.Variables() {
			if tr.RootName() != "deps" {
				continue
			}
			var name string
			if len(tr) > 1 {
				switch step := tr[1].(type) {
				case hcl.TraverseAttr:
					name = step.Name
				case hcl.TraverseIndex:
					if step.Key.Type() == cty.String && step.Key.IsKnown() && !step.Key.IsNull() {
						name = step.Key.AsString()
					}
				}
			}
			if name == "" {
				return nil, fmt.Errorf("%s: deps must be indexed by a package name", tr.SourceRange())
			}
			dep, err := rc.Dep(name)
			if err != nil {
				return nil, err
			}
			out[name] = dep
		}
	}
	return out, nil
}

func generateHook(vars, cacheVars hcl.Expression) func(context.Context, *recipe.Context, *recipe.Toolchain) error {
	return func(_ context.Context, rc *recipe.Context, tc *recipe.Toolchain) error {
		ectx, err := evalContext(rc, vars, cacheVars)
		if err != nil {
			return err
		}
		if err := mergeVariables(vars, ectx, &tc.Variables); err != nil {
			return fmt.Errorf("toolchain variables: %w", err)
		}
		if err := mergeVariables(cacheVars, ectx, &tc.CacheVariables); err != nil {
			return fmt.Errorf("toolchain cache_variables: %w", err)
		}
		return nil
	}
}

// mergeVariables evaluates an object expression into dst. Null members are
// left out, so "cond ? value : null" declares a variable conditionally.
func mergeVariables(expr hcl.Expression, ectx *hcl.EvalContext, dst *map[string]any) error {
	if !isExprDefined(expr) {
		return nil
	}
	v, diags := expr.Value(ectx)
	if diags.HasErrors() {
		return diags
	}
	if v.IsNull() {
		return nil
	}
	if ty := v.Type(); !ty.IsObjectType() && !ty.IsMapType() {
		return fmt.Errorf("expected an object, got %s", ty.FriendlyName())
	}
	if *dst == nil {
		*dst = make(map[string]any)
	}
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		if ev.IsNull() {
			continue
		}
		nv, err := scalar(ev)
		if err != nil {
			return fmt.Errorf("%s: %w", k.AsString(), err)
		}
		(*dst)[k.AsString()] = nv
	}
	return nil
}

func scalar(v cty.Value) (any, error) {
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	switch v.Type() {
	case cty.String:
		return v.AsString(), nil
	case cty.Bool:
		return v.True(), nil
	case cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == 0 {
				return i, nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	}
	return nil, fmt.Errorf("unsupported value of type %s", v.Type().FriendlyName())
}

// commandHook runs the argv expr evaluates to in the build folder.
func commandHook(expr hcl.Expression) func(context.Context, *recipe.Context) error {
	return func(ctx context.Context, rc *recipe.Context) error {
		argv, err := evalCommand(rc, expr)
		if err != nil {
			return err
		}
		return rc.Run(ctx, argv[0], argv[1:]...)
	}
}

func evalCommand(rc *recipe.Context, expr hcl.Expression) ([]string, error) {
	ectx, err := evalContext(rc, expr)
	if err != nil {
		return nil, err
	}
	v, diags := expr.Value(ectx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("command: %w", diags)
	}
	if v.IsNull() || !v.CanIterateElements() || v.Type().IsObjectType() || v.Type().IsMapType() {
		return nil, fmt.Errorf("command: expected a list of strings")
	}
	var argv []string
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		if ev.IsNull() {
			continue
		}
		sv, err := convert.Convert(ev, cty.String)
		if err != nil {
			return nil, fmt.Errorf("command: %w", err)
		}
		argv = append(argv, sv.AsString())
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command: empty")
	}
	return argv, nil
}

func translateOptions(blocks []*optionBlock) (map[string]recipe.OptionSpec, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	out := make(map[string]recipe.OptionSpec, len(blocks))
	for _, b := range blocks {
		if _, dup := out[b.Name]; dup {
			return nil, fmt.Errorf("option %q declared twice", b.Name)
		}
		vals, diags := b.Values.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("option %q: values: %w", b.Name, diags)
		}
		if vals.IsNull() || !vals.CanIterateElements() || vals.Type().IsObjectType() || vals.Type().IsMapType() {
			return nil, fmt.Errorf("option %q: values must be a list", b.Name)
		}
		var spec recipe.OptionSpec
		for it := vals.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			if !ev.IsNull() && ev.Type() == cty.String && ev.AsString() == "ANY" {
				spec.Any = true
				continue
			}
			v, err := optionValue(ev)
			if err != nil {
				return nil, fmt.Errorf("option %q: %w", b.Name, err)
			}
			spec.Values = append(spec.Values, v)
		}
		switch {
		case isExprDefined(b.Default):
			dv, diags := b.Default.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("option %q: default: %w", b.Name, diags)
			}
			v, err := optionValue(dv)
			if err != nil {
				return nil, fmt.Errorf("option %q: default: %w", b.Name, err)
			}
			spec.Default = v
		case len(spec.Values) > 0:
			spec.Default = spec.Values[0]
		}
		out[b.Name] = spec
	}
	return out, nil
}

func translateDefaultOptions(expr hcl.Expression) ([]recipe.OptionAssignment, error) {
	if !isExprDefined(expr) {
		return nil, nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("default_options: %w", diags)
	}
	if v.IsNull() {
		return nil, nil
	}
	if ty := v.Type(); !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("default_options: expected an object, got %s", ty.FriendlyName())
	}
	var out []recipe.OptionAssignment
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		ov, err := optionValue(ev)
		if err != nil {
			return nil, fmt.Errorf("default_options: %s: %w", k.AsString(), err)
		}
		a, err := recipe.ParseOptionKey(k.AsString(), ov)
		if err != nil {
			return nil, fmt.Errorf("default_options: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// optionValue maps an HCL value to an option value: null is None and
// booleans take their canonical True/False spelling.
func optionValue(v cty.Value) (recipe.Value, error) {
	if v.IsNull() {
		return recipe.None, nil
	}
	if !v.IsWhollyKnown() {
		return recipe.None, fmt.Errorf("value is not known")
	}
	switch v.Type() {
	case cty.Bool:
		return recipe.BoolValue(v.True()), nil
	case cty.Number:
		return recipe.Value(v.AsBigFloat().Text('f', -1)), nil
	case cty.String:
		return recipe.ParseValue(v.AsString()), nil
	}
	return recipe.None, fmt.Errorf("unsupported option value of type %s", v.Type().FriendlyName())
}
