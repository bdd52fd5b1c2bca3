package tenancy

import "sort"

// Resolve computes an effective permission set: role defaults plus granted
// overrides, minus denied overrides. A denial always wins, including over a
// grant of the same permission.
func Resolve(defaults []string, overrides []Override) []string {
	set := make(map[string]struct{}, len(defaults)+len(overrides))
	for _, name := range defaults {
		set[name] = struct{}{}
	}
	for _, o := range overrides {
		if o.Granted {
			set[o.Permission] = struct{}{}
		}
	}
	for _, o := range overrides {
		if !o.Granted {
			delete(set, o.Permission)
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
