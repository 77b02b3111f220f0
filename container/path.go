package container

import (
	"context"
	"strings"

	taskscope "github.com/goliatone/go-taskscope"
)

type pathKey struct{}

// enter pushes id onto the resolution path carried by ctx and fails when
// id is already being resolved further up the chain.
func enter(ctx context.Context, id taskscope.TypeName) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key := id.String()
	path, _ := ctx.Value(pathKey{}).([]string)
	for _, p := range path {
		if p == key {
			chain := append(append([]string{}, path...), key)
			return ctx, taskscope.NewError(taskscope.ErrServiceCircular, "", nil, map[string]any{
				"type_name": key,
				"path":      strings.Join(chain, " -> "),
			})
		}
	}
	next := make([]string, len(path), len(path)+1)
	copy(next, path)
	next = append(next, key)
	return context.WithValue(ctx, pathKey{}, next), nil
}
