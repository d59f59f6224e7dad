package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// newURLEnvironment creates a CEL environment for URL deny policies.
// Expressions see the candidate URL broken into parts:
//   - url: the full canonical URL string
//   - scheme: "http" or "https"
//   - host: lowercase hostname without port
//   - port: explicit port, or the scheme default
//   - path: the URL path
//
// One custom function is available: glob(pattern, value) for shell-style
// matching, e.g. glob("*.corp.example.com", host).
func newURLEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("url", cel.StringType),
		cel.Variable("scheme", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("port", cel.IntType),
		cel.Variable("path", cel.StringType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, value ref.Val) ref.Val {
					p := pattern.Value().(string)
					v := value.Value().(string)
					matched, _ := filepath.Match(p, v)
					return types.Bool(matched)
				}),
			),
		),
	)
}
