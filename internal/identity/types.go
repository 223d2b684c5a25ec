// Package identity derives the local user identity used for self-origin checks.
package identity

import (
	"errors"
	"strings"
)

// Role is a negotiation party.
type Role string

// Negotiation parties. RoleUnknown only appears on events whose sender could not be classified.
const (
	RoleShipper Role = "shipper"
	RoleCarrier Role = "carrier"
	RoleBroker  Role = "broker"
	RoleUnknown Role = "unknown"
)

// ErrIdentityRequired is returned when no usable local identity can be derived.
var ErrIdentityRequired = errors.New("identity: id is required")

// ParseRole maps the many spellings senders use onto a Role.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "shipper", "shippers", "customer":
		return RoleShipper
	case "carrier", "carriers", "driver", "trucker", "dispatcher":
		return RoleCarrier
	case "broker", "inhouse", "in-house", "in_house", "employee", "staff", "admin", "agent":
		return RoleBroker
	default:
		return RoleUnknown
	}
}

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// DefaultName is the display name used when a sender did not provide one.
func (r Role) DefaultName() string {
	switch r {
	case RoleShipper:
		return "Shipper"
	case RoleCarrier:
		return "Carrier"
	case RoleBroker:
		return "Broker"
	default:
		return "Unknown sender"
	}
}

// Identity is the authenticated local user. It is immutable for the lifetime of a session.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Validate reports whether the identity can be used for a session.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return ErrIdentityRequired
	}
	return nil
}

// IsShipper reports whether the identity joins shipper-scoped rooms.
func (i Identity) IsShipper() bool {
	return i.Role == RoleShipper
}
