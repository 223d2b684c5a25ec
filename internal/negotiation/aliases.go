package negotiation

import (
	"sort"

	"github.com/memohai/negosync/internal/identity"
)

// Wire event names that all carry a negotiation update.
const (
	AliasInternalNegotiationUpdate = "internal_negotiation_update"
	AliasNegotiationThreadUpdate   = "negotiation_thread_update"
	AliasBidNegotiationUpdate      = "bid_negotiation_update"
	AliasShipperInternalNegotiate  = "shipper_internal_negotiate"
	AliasInhouseInternalNegotiate  = "inhouse_internal_negotiate"
	AliasNewNegotiationMessage     = "new_negotiation_message"
	AliasNegotiationMessageRecv    = "negotiation_message_received"
	AliasAPINegotiationUpdate      = "api_negotiation_update"
	AliasLiveNegotiationUpdate     = "live_negotiation_update"

	// AliasPoll labels events that came from the reconciliation endpoint.
	AliasPoll = "poll"
)

// Profile describes how one alias is normalized. Alias-specific fields are consulted before the
// generic candidates, and Role, when set, overrides whatever the payload claims.
type Profile struct {
	Name          string
	Role          identity.Role
	IDFields      []string
	NameFields    []string
	MessageFields []string
	RateFields    []string
	// Verb is used to synthesize a message from the rate when the payload has no free text.
	Verb string
}

var profiles = map[string]Profile{
	AliasInternalNegotiationUpdate: {Name: AliasInternalNegotiationUpdate},
	AliasNegotiationThreadUpdate:   {Name: AliasNegotiationThreadUpdate},
	AliasBidNegotiationUpdate:      {Name: AliasBidNegotiationUpdate},
	AliasShipperInternalNegotiate: {
		Name:          AliasShipperInternalNegotiate,
		Role:          identity.RoleShipper,
		IDFields:      []string{"shipperId", "shipper_id", "shipper._id", "shipper.id"},
		NameFields:    []string{"shipperName", "shipper_name", "shipper.name", "shipper.compName"},
		MessageFields: []string{"shipperNegotiationMessage", "shipperMessage"},
		RateFields:    []string{"shipperCounterRate", "shipperRate"},
		Verb:          "countered at",
	},
	AliasInhouseInternalNegotiate: {
		Name:          AliasInhouseInternalNegotiate,
		Role:          identity.RoleBroker,
		IDFields:      []string{"employeeId", "empId", "inhouseUserId", "brokerId"},
		NameFields:    []string{"employeeName", "empName", "inhouseUserName", "brokerName"},
		MessageFields: []string{"inhouseNegotiationMessage", "inhouseMessage"},
		RateFields:    []string{"inhouseCounterRate", "inhouseRate"},
		Verb:          "countered at",
	},
	AliasNewNegotiationMessage:  {Name: AliasNewNegotiationMessage},
	AliasNegotiationMessageRecv: {Name: AliasNegotiationMessageRecv},
	AliasAPINegotiationUpdate:   {Name: AliasAPINegotiationUpdate},
	AliasLiveNegotiationUpdate:  {Name: AliasLiveNegotiationUpdate},
}

// Aliases returns every inbound alias name in a stable order.
func Aliases() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupProfile returns the profile for alias. Unknown aliases (including AliasPoll) get a
// generic profile carrying the alias name.
func LookupProfile(alias string) (Profile, bool) {
	p, ok := profiles[alias]
	if !ok {
		return Profile{Name: alias}, false
	}
	return p, true
}
