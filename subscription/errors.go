package subscription

import "errors"

// ErrUnknownQuery is returned by Remove when the query id doesn't exist,
// or exists but is owned by a different client.
var ErrUnknownQuery = errors.New("subscription: unknown query")
