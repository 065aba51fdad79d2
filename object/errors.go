package object

import "errors"

// ErrMalformedValue wraps a failure to interpret a patch's incoming value
// as JSON, distinguishing a caller's bad payload from a storage failure.
var ErrMalformedValue = errors.New("object: malformed value")
