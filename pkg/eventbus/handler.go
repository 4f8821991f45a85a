package eventbus

import "github.com/evkernel/evkernel/pkg/registry"

// Handler processes one emission for one handler slot. It is the same
// function shape the registry stores: a function of the (migrated, possibly
// broadcast-tagged) event context.
type Handler = registry.Handler

// Middleware wraps a Handler in the onion pattern described by
// registry.Chain: middleware[0] runs first before and last after.
type Middleware = registry.Middleware

// Migrator transforms a context from one version to the next.
type Migrator = registry.Migrator
