package errorutil

import "errors"

// ErrConfiguration is a base error type for invalid report configuration
// (malformed filter files, unknown option values, conflicting rules). It is
// always surfaced before any sample is processed.
var ErrConfiguration = errors.New("configuration error")

// ErrDataIntegrity is a base error type to use for failures that are due to
// unrecoverable data integrity issues, such as two merged captures
// disagreeing on the meaning of a table index.
var ErrDataIntegrity = errors.New("data integrity error")
