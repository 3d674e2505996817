package offset

import (
	"fmt"
	"time"
)

// Supported cache backends
const (
	BackendText = "text"
	BackendBolt = "bolt"
)

// Options selects and configures a store
type Options struct {
	Backend     string
	Path        string
	Delimiter   string        // text backend only
	OpenTimeout time.Duration // bolt backend only
}

// Open creates the store described by opts
func Open(opts Options) (OffsetStore, error) {
	switch opts.Backend {
	case BackendText, "":
		return NewFileStore(opts.Path, opts.Delimiter)
	case BackendBolt:
		return NewBoltDBStore(opts.Path, opts.OpenTimeout)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s (use '%s' or '%s')", opts.Backend, BackendText, BackendBolt)
	}
}
