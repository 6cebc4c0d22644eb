package mudis

import (
	"context"
	"strings"
)

const nsDelimiter = ":"

// validateNamespace enforces that namespaces never contain the effective-key
// delimiter (§3).
func validateNamespace(ns string) error {
	if strings.Contains(ns, nsDelimiter) {
		return ErrInvalidNamespace
	}
	return nil
}

// effectiveKey composes the storage key from (namespace, key) per §3: when
// ns is non-empty the effective key is "ns:key", otherwise it is the raw
// key unchanged.
func effectiveKey(ns, key string) string {
	if ns == "" {
		return key
	}
	return ns + nsDelimiter + key
}

// ctxNamespaceKey is the context.Context key used by WithNamespace (§9's
// "explicit context parameter threaded through calls" resolution of the
// task-local with_namespace pattern — Go has no implicit task-local
// storage, so the cache accepts an explicit ctx rather than reading an
// ambient global).
type ctxNamespaceKey struct{}

// WithNamespace returns a context carrying ns as the ambient namespace for
// any Cache call that receives it and does not pass an explicit namespace
// of its own. It is the idiomatic-Go analogue of the source's
// with_namespace(ns) { ... } task-local scope.
func WithNamespace(ctx context.Context, ns string) context.Context {
	return context.WithValue(ctx, ctxNamespaceKey{}, ns)
}

func namespaceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ns, _ := ctx.Value(ctxNamespaceKey{}).(string)
	return ns
}

// resolveNamespace picks the effective namespace for a call: an explicit
// namespace argument wins over whatever WithNamespace placed in ctx; if
// both are absent, the raw key is used (namespace == "").
func resolveNamespace(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return namespaceFromContext(ctx)
}
