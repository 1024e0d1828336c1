// Package defaults is a small namespaced key-value store for user-level
// preferences shared between the daemon and its shells, in the spirit of an
// app-group UserDefaults suite.
package defaults

import (
	"errors"
	"fmt"
)

// ErrNoNamespace is returned by Open when no namespace is configured.
var ErrNoNamespace = errors.New("defaults: no namespace configured")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("defaults: store closed")

// Store holds string lists keyed by name. A missing key reads as nil, nil.
type Store interface {
	StringSlice(key string) ([]string, error)
	SetStringSlice(key string, values []string) error
	Remove(key string) error
	Close() error
}

// Options selects and configures a driver.
type Options struct {
	// Driver is "plist" (default) or "memory".
	Driver    string
	Dir       string
	Namespace string
}

// Open returns the store for the configured namespace.
func Open(opts Options) (Store, error) {
	if opts.Namespace == "" {
		return nil, ErrNoNamespace
	}
	switch opts.Driver {
	case "", "plist":
		return OpenPlist(opts.Dir, opts.Namespace)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("defaults: unknown driver %q", opts.Driver)
	}
}

func toStrings(v any) ([]string, error) {
	switch vv := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), vv...), nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("defaults: unexpected element type %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("defaults: value is %T, not a string list", v)
	}
}
