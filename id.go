package sitetheory

import "github.com/oklog/ulid/v2"

// IDGenerator provides identifiers for deploys and idempotency tokens.
type IDGenerator interface {
	NewID() string
}

// ULIDGenerator generates lexicographically sortable, time-ordered IDs.
type ULIDGenerator struct{}

func (ULIDGenerator) NewID() string {
	return ulid.Make().String()
}
