package recipe

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/im3e/forge/mod/module"
)

// Value is the value of one option. The zero value is None, which means
// the option is unset.
type Value string

// None is the unset option value.
const None Value = ""

// ParseValue parses the textual form of an option value; "None" parses to
// None.
func ParseValue(s string) Value {
	if s == "None" {
		return None
	}
	return Value(s)
}

// BoolValue returns the canonical option value of b.
func BoolValue(b bool) Value {
	if b {
		return "True"
	}
	return "False"
}

func (v Value) String() string {
	if v == None {
		return "None"
	}
	return string(v)
}

// IsSet reports whether v is not None.
func (v Value) IsSet() bool {
	return v != None
}

// Bool interprets v as a boolean toggle.
func (v Value) Bool() bool {
	switch strings.ToLower(string(v)) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}

// OptionSpec declares an option and its closed set of allowed values.
type OptionSpec struct {
	Values []Value
	// Any accepts every value.
	Any     bool
	Default Value
}

// BoolOption returns the spec of a True/False toggle.
func BoolOption(def bool) OptionSpec {
	return OptionSpec{Values: []Value{"True", "False"}, Default: BoolValue(def)}
}

// Allows reports whether v is one of the allowed values.
func (s OptionSpec) Allows(v Value) bool {
	if s.Any {
		return true
	}
	if slices.Contains(s.Values, v) {
		return true
	}
	// Booleans are accepted in any spelling when the spec is a toggle.
	if s.isToggle() {
		switch strings.ToLower(string(v)) {
		case "true", "false":
			return true
		}
	}
	return false
}

func (s OptionSpec) isToggle() bool {
	return len(s.Values) == 2 && slices.Contains(s.Values, "True") && slices.Contains(s.Values, "False")
}

// normalize maps boolean spellings of toggles to their canonical form.
func (s OptionSpec) normalize(v Value) Value {
	if s.isToggle() {
		switch strings.ToLower(string(v)) {
		case "true":
			return "True"
		case "false":
			return "False"
		}
	}
	return v
}

func (s OptionSpec) validate(name string) error {
	if !s.Any && len(s.Values) == 0 {
		return fmt.Errorf("option %q declares no values", name)
	}
	if !s.Allows(s.Default) {
		return fmt.Errorf("option %q: default %s is not one of %s", name, s.Default, joinValues(s.Values))
	}
	return nil
}

// Options is a frozen set of option values of one package.
type Options map[string]Value

// Get returns the value of name, None when unset.
func (o Options) Get(name string) Value {
	return o[name]
}

// Keys returns the option names in sorted order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the options as sorted "name=value" pairs.
func (o Options) String() string {
	parts := make([]string, 0, len(o))
	for _, k := range o.Keys() {
		parts = append(parts, k+"="+o[k].String())
	}
	return strings.Join(parts, ",")
}

// Defaults returns the options of r with every declared option at its
// default, then the recipe's own default_options applied.
func Defaults(r *Recipe) Options {
	opts := make(Options, len(r.Options))
	for name, spec := range r.Options {
		opts[name] = spec.Default
	}
	for _, d := range r.DefaultOptions {
		if d.Pattern == "" {
			opts[d.Name] = r.Options[d.Name].normalize(d.Value)
		}
	}
	return opts
}

// Set assigns v to the option name of r after validating it.
func (o Options) Set(r *Recipe, name string, v Value) error {
	spec, ok := r.Options[name]
	if !ok {
		return &InvalidOptionError{Ref: r.Ref(), Name: name, Value: v, Unknown: true}
	}
	if !spec.Allows(v) {
		return &InvalidOptionError{Ref: r.Ref(), Name: name, Value: v, Allowed: spec.Values}
	}
	o[name] = spec.normalize(v)
	return nil
}

// OptionAssignment assigns Value to option Name, either of the recipe
// itself (empty Pattern) or of every dependency whose reference matches
// Pattern ("cimg/*", "vulkan-*", "fmt").
type OptionAssignment struct {
	Pattern string
	Name    string
	Value   Value
}

// ParseOptionAssignment parses "name=value" or "pattern:name=value".
func ParseOptionAssignment(s string) (OptionAssignment, error) {
	lhs, value, ok := strings.Cut(s, "=")
	if !ok {
		return OptionAssignment{}, fmt.Errorf("invalid option %q: expected name=value", s)
	}
	return ParseOptionKey(lhs, ParseValue(strings.TrimSpace(value)))
}

// ParseOptionKey splits a default_options key ("pattern:name" or "name")
// and pairs it with v.
func ParseOptionKey(key string, v Value) (OptionAssignment, error) {
	key = strings.TrimSpace(key)
	a := OptionAssignment{Name: key, Value: v}
	if i := strings.LastIndex(key, ":"); i >= 0 {
		a.Pattern, a.Name = key[:i], key[i+1:]
		if a.Pattern == "" {
			return OptionAssignment{}, fmt.Errorf("invalid option %q: empty pattern", key)
		}
		if !doublestar.ValidatePattern(a.Pattern) {
			return OptionAssignment{}, fmt.Errorf("invalid option %q: bad pattern", key)
		}
	}
	if a.Name == "" {
		return OptionAssignment{}, fmt.Errorf("invalid option %q: empty name", key)
	}
	return a, nil
}

// Matches reports whether the assignment targets ref. A pattern without a
// slash matches the package name only.
func (a OptionAssignment) Matches(ref module.Version) bool {
	if a.Pattern == "" {
		return false
	}
	target := ref.String()
	if !strings.Contains(a.Pattern, "/") {
		target = ref.Name
	}
	ok, err := doublestar.Match(a.Pattern, target)
	return err == nil && ok
}

func (a OptionAssignment) String() string {
	if a.Pattern == "" {
		return a.Name + "=" + a.Value.String()
	}
	return a.Pattern + ":" + a.Name + "=" + a.Value.String()
}

// InvalidOptionError reports an option value outside the declared set, or
// an assignment to an option the package does not declare.
type InvalidOptionError struct {
	Ref     module.Version
	Name    string
	Value   Value
	Allowed []Value
	Unknown bool
}

func (e *InvalidOptionError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("%s: unknown option %q", e.Ref, e.Name)
	}
	return fmt.Sprintf("%s: invalid value %s for option %q, allowed: %s", e.Ref, e.Value, e.Name, joinValues(e.Allowed))
}

func joinValues(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
