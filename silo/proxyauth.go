// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package silo

import (
	"fmt"
	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"
)

// the proxied authorization control, RFC 4370
const ProxiedAuthControlType = "2.16.840.1.113730.3.4.18"

// ProxiedAuthControl asks the directory to evaluate the request under
// the authorization identity of the authenticated SCIM user instead
// of the gateway's own bind identity. The control is always critical.
type ProxiedAuthControl struct {
	AuthzId string
}

func NewProxiedAuthControl(authzId string) *ProxiedAuthControl {
	return &ProxiedAuthControl{AuthzId: authzId}
}

func (c *ProxiedAuthControl) GetControlType() string {
	return ProxiedAuthControlType
}

func (c *ProxiedAuthControl) Encode() *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.GetControlType(), "Control Type (Proxied Authorization)"))
	packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))
	// the control value is the authorization identity itself, it is
	// not wrapped in a nested BER sequence
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.AuthzId, "Control Value (Authorization Identity)"))

	return packet
}

func (c *ProxiedAuthControl) String() string {
	return fmt.Sprintf("Control Type: Proxied Authorization (%q) Criticality: true AuthzId: %s", ProxiedAuthControlType, c.AuthzId)
}

// the compiler enforced contract with the directory client
var _ ldap.Control = &ProxiedAuthControl{}
