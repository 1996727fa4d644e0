package repository

import "errors"

// ErrNotFound is returned when no row matches: a job id with no deployment
// link, or an integration credential that was never stored.
var ErrNotFound = errors.New("repository: not found")
