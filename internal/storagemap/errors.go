package storagemap

import "errors"

// ErrConnect wraps a failure to reach the database itself, as distinct
// from a failure in the query or its result set (§7: Database{Connect|Query}).
var ErrConnect = errors.New("storagemap: database connect failed")

// ErrQuery wraps any failure executing or scanning the mapping query once
// the database connection itself is known to be reachable.
var ErrQuery = errors.New("storagemap: query failed")
