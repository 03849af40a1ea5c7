package vio

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// SchemeFactory constructs a Backend for a single URL scheme candidate.
type SchemeFactory func(baseURL string) (Backend, error)

// Registry resolves a remote module URL to a Backend by trying an
// ordered, extensible list of scheme candidates (https, then http, by
// default).
type Registry struct {
	factories map[string]SchemeFactory
	// Candidates is tried in order for a scheme-less URL.
	Candidates []string
}

// NewRegistry creates a registry pre-populated with "https" and "http",
// tried in that order.
func NewRegistry() *Registry {
	r := &Registry{
		factories:  make(map[string]SchemeFactory),
		Candidates: []string{"https", "http"},
	}
	factory := func(baseURL string) (Backend, error) {
		return NewRemote(baseURL), nil
	}
	r.Register("https", factory)
	r.Register("http", factory)
	return r
}

// Register associates a scheme with a backend factory.
func (r *Registry) Register(scheme string, factory SchemeFactory) {
	r.factories[scheme] = factory
}

// Resolve constructs a Backend for uri. A uri that specifies a scheme
// uses that scheme's factory directly, without probing; a scheme-less
// uri is tried with each of Candidates in order until one probes
// successfully via Stat on "/".
func (r *Registry) Resolve(ctx context.Context, uri string) (Backend, error) {
	if scheme, rest, ok := splitScheme(uri); ok {
		factory, known := r.factories[scheme]
		if !known {
			return nil, errors.Errorf("unknown backend scheme: %s", scheme)
		}
		return factory(scheme + "://" + rest)
	}

	var lastErr error
	for _, scheme := range r.Candidates {
		backend, err := r.factories[scheme](scheme + "://" + uri)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := backend.Stat(ctx, "/"); err != nil {
			lastErr = err
			continue
		}
		return backend, nil
	}
	return nil, errors.Wrap(lastErr, "no scheme candidate succeeded")
}

func splitScheme(uri string) (scheme, rest string, ok bool) {
	idx := strings.Index(uri, "://")
	if idx < 0 {
		return "", "", false
	}
	return uri[:idx], uri[idx+3:], true
}
