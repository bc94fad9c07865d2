package db

import "errors"

var (
	// ErrKeyNotFound is returned by reads of a missing key.
	ErrKeyNotFound = errors.New("db: key not found")
	// ErrIndexNotFound is returned when the search index does not exist.
	ErrIndexNotFound = errors.New("db: index not found")
	// ErrIndexExists is returned by CreateIndex for an existing index.
	ErrIndexExists = errors.New("db: index already exists")
)

// Command names attached to store errors.
const (
	OpPing        = "PING"
	OpCreateIndex = "FT.CREATE"
	OpIndexInfo   = "FT.INFO"
	OpSearch      = "FT.SEARCH"
	OpAggregate   = "FT.AGGREGATE"
	OpSugAdd      = "FT.SUGADD"
	OpSugGet      = "FT.SUGGET"
	OpSugDel      = "FT.SUGDEL"
	OpDel         = "DEL"
	OpHGetAll     = "HGETALL"
	OpHSet        = "HSET"
	OpScan        = "SCAN"
	OpGet         = "GET"
	OpSet         = "SET"
	OpExpire      = "PEXPIRE"
)

// Error is a failed store command. Callers treat it as a backend outage:
// sentinel conditions such as a missing key or index are returned bare.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
