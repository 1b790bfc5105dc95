package stage

import "errors"

// PathChecker reports whether a path exists in the active filesystem view.
type PathChecker interface {
	Exists(path string) bool
}

// CheckCircularDependency fails when a dependency path is also an output
// path of the same stage. The first such dependency, in declaration order,
// is reported.
func CheckCircularDependency(s *Stage) error {
	outs := make(map[string]bool, len(s.Outs))
	for _, o := range s.Outs {
		outs[o.Abs] = true
	}
	for _, d := range s.Deps {
		if outs[d.Abs] {
			return &Error{
				Kind: ErrCircularDependency,
				Path: d.String(),
				Msg:  "file/directory '" + d.String() + "' is specified as an output and as a dependency",
			}
		}
	}
	return nil
}

// CheckDuplicatedArguments fails for the first path, in deps-then-outs
// order, that occurs more than once across dependencies and outputs.
func CheckDuplicatedArguments(s *Stage) error {
	counts := make(map[string]int, len(s.Deps)+len(s.Outs))
	edges := make([]*Edge, 0, len(s.Deps)+len(s.Outs))
	edges = append(edges, s.Deps...)
	edges = append(edges, s.Outs...)
	for _, e := range edges {
		counts[e.Abs]++
	}
	for _, e := range edges {
		if counts[e.Abs] > 1 {
			return &Error{
				Kind: ErrArgumentDuplication,
				Path: e.String(),
				Msg:  "file '" + e.String() + "' is specified more than once",
			}
		}
	}
	return nil
}

// CheckMissingOutputs fails with every local output that does not exist in
// the given view.
func CheckMissingOutputs(s *Stage, fs PathChecker) error {
	var missing []string
	for _, o := range s.Outs {
		if !o.IsLocal() {
			continue
		}
		if !fs.Exists(o.Abs) {
			missing = append(missing, o.String())
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &Error{Kind: ErrMissingDataSource, Paths: missing}
}

// Validate runs the structural checks a stage must pass before it can be
// inserted into a graph. Both checks always run; a path that is both a
// dependency and an output is reported by each of them.
func Validate(s *Stage) error {
	return errors.Join(CheckCircularDependency(s), CheckDuplicatedArguments(s))
}
