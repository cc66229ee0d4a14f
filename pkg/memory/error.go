package memory

import "errors"

// ErrUnindexable marks an event whose content is binary or not valid UTF-8.
var ErrUnindexable = errors.New("event content cannot be indexed")
