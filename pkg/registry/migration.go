package registry

import "github.com/evkernel/evkernel/pkg/eventcontext"

// Migrator transforms a context from one version to the next.
type Migrator func(eventcontext.Context) eventcontext.Context

// MigrateContext walks ctx forward from its current version to the latest
// registered handler version for name. The walk stops at the first missing
// migrator, leaving ctx at the last successfully migrated version. A
// migrator chain that revisits an already-seen version (a cycle) also
// stops the walk at that point rather than looping forever.
func (r *Registry) MigrateContext(name string, ctx eventcontext.Context) eventcontext.Context {
	latest, ok := r.GetLatestVersion(name)
	if !ok {
		return ctx
	}

	r.mu.RLock()
	migrators := r.migrators[name]
	r.mu.RUnlock()

	seen := map[int]bool{ctx.Version: true}

	for ctx.Version < latest {
		fn, ok := migrators[ctx.Version]
		if !ok {
			break
		}
		next := ctx.Version + 1
		if seen[next] {
			break
		}
		ctx = fn(ctx)
		ctx.Version = next
		seen[next] = true
	}
	return ctx
}
