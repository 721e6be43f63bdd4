//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	"github.com/rs/zerolog"
)

func openSQLite(Config, zerolog.Logger) (Store, error) {
	return nil, errors.New("sqlite storage not built in (build with -tags sqlite)")
}
