package store

import "fmt"

type Options struct {
	Driver      string // memory, badger or postgres
	BadgerDir   string
	DatabaseURL string
}

// Open returns the LogStore selected by opts.Driver.
func Open(opts Options) (LogStore, error) {
	switch opts.Driver {
	case "", "memory":
		return New(), nil
	case "badger":
		return OpenBadger(opts.BadgerDir)
	case "postgres":
		return OpenPostgres(opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
