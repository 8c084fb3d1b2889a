package service

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	orderIDPrefix   = "ORD-"
	sessionIDPrefix = "cs_"
)

// NewOrderID returns a system order id. ULIDs sort by creation time.
func NewOrderID() string {
	return orderIDPrefix + ulid.Make().String()
}

func NewSessionID() string {
	return sessionIDPrefix + strings.ToLower(ulid.Make().String())
}
