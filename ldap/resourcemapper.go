// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package ldap

import (
	"fmt"
	"github.com/go-ldap/ldap/v3"
	"scimgate/base"
	"scimgate/schema"
	"strings"
)

type dnSegment struct {
	text   string // literal text, empty for a placeholder segment
	atName string // attribute name of a placeholder segment
}

// A ResourceMapper owns the ordered attribute mappers of one SCIM
// resource type together with the structural object classes, the
// search base and the DN template of its directory entries.
// Built once from the mapping configuration, immutable afterwards.
type ResourceMapper struct {
	ResType       *schema.ResourceType
	ObjectClasses []string
	SearchBase    string
	DnTemplate    string
	Mappers       []*AttributeMapper

	atMap      map[string]*AttributeMapper // mappers keyed by lowercase SCIM attribute name
	dnSegments []dnSegment
}

func NewResourceMapper(rt *schema.ResourceType, objectClasses []string, searchBase string, dnTemplate string, mappers []*AttributeMapper) (*ResourceMapper, error) {
	rm := &ResourceMapper{ResType: rt, ObjectClasses: objectClasses, SearchBase: searchBase, DnTemplate: dnTemplate, Mappers: mappers}
	rm.atMap = make(map[string]*AttributeMapper)

	// every LDAP attribute must be owned by exactly one mapping,
	// overlapping writes are a configuration error
	ldapAtOwner := make(map[string]string)

	for _, am := range mappers {
		name := am.ScimAttrName()
		if _, ok := rm.atMap[name]; ok {
			return nil, fmt.Errorf("Duplicate mapping for the attribute %s of resource %s", am.AtType.Name, rt.Name)
		}
		rm.atMap[name] = am

		for _, ldapAt := range am.LdapAttributeTypes() {
			key := strings.ToLower(ldapAt)
			if owner, ok := ldapAtOwner[key]; ok {
				return nil, fmt.Errorf("LDAP attribute %s is mapped by both %s and %s in resource %s", ldapAt, owner, am.AtType.Name, rt.Name)
			}
			ldapAtOwner[key] = am.AtType.Name
		}
	}

	err := rm.parseDnTemplate()
	if err != nil {
		return nil, err
	}

	return rm, nil
}

// splits the DN template into literal text and {attrName} placeholder
// segments
func (rm *ResourceMapper) parseDnTemplate() error {
	tmpl := rm.DnTemplate
	for len(tmpl) > 0 {
		startPos := strings.IndexRune(tmpl, '{')
		if startPos < 0 {
			rm.dnSegments = append(rm.dnSegments, dnSegment{text: tmpl})
			break
		}

		endPos := strings.IndexRune(tmpl, '}')
		if endPos < startPos {
			return fmt.Errorf("Invalid DN template '%s' of resource %s", rm.DnTemplate, rm.ResType.Name)
		}

		if startPos > 0 {
			rm.dnSegments = append(rm.dnSegments, dnSegment{text: tmpl[:startPos]})
		}

		atName := strings.TrimSpace(tmpl[startPos+1 : endPos])
		if rm.ResType.GetAtType(atName) == nil {
			return fmt.Errorf("DN template of resource %s refers to the unknown attribute %s", rm.ResType.Name, atName)
		}

		rm.dnSegments = append(rm.dnSegments, dnSegment{atName: atName})
		tmpl = tmpl[endPos+1:]
	}

	return nil
}

// Returns the mapper serving the named SCIM attribute, nil when the
// attribute has no mapping
func (rm *ResourceMapper) GetMapper(name string) *AttributeMapper {
	return rm.atMap[strings.ToLower(name)]
}

// Maps the resource to its directory attribute set. The structural
// object classes come first, the mapped attributes follow in the
// declared mapping order.
func (rm *ResourceMapper) ToLdapAttributes(rs *base.Resource) ([]ldap.Attribute, error) {
	attrs := make([]ldap.Attribute, 0, len(rm.Mappers)+1)
	attrs = append(attrs, ldap.Attribute{Type: "objectClass", Vals: rm.ObjectClasses})

	for _, am := range rm.Mappers {
		err := am.ToLdapAttributes(rs, &attrs)
		if err != nil {
			return nil, err
		}
	}

	return attrs, nil
}

// Assembles the SCIM attributes of the entry. The projection is the
// set of attribute names the client asked for, all mapped attributes
// are returned when it is empty. A value the directory holds in a
// malformed form is skipped, not fatal.
func (rm *ResourceMapper) ToScimAttributes(entry *ldap.Entry, projection []string) ([]base.Attribute, error) {
	var requested map[string]bool
	if len(projection) > 0 {
		requested = make(map[string]bool)
		for _, name := range projection {
			requested[strings.ToLower(strings.TrimSpace(name))] = true
		}
	}

	ats := make([]base.Attribute, 0, len(rm.Mappers))

	for _, am := range rm.Mappers {
		if requested != nil && !requested[am.ScimAttrName()] {
			continue
		}

		at, err := am.ToScimAttribute(entry)
		if err != nil {
			log.Warningf("skipping attribute %s of entry %s [%s]", am.AtType.Name, entry.DN, err)
			continue
		}

		if at != nil {
			ats = append(ats, at)
		}
	}

	return ats, nil
}

// Maps a resource read from the directory entry
func (rm *ResourceMapper) ToResource(entry *ldap.Entry, projection []string) (*base.Resource, error) {
	ats, err := rm.ToScimAttributes(entry, projection)
	if err != nil {
		return nil, err
	}

	rs := base.NewResource(rm.ResType)
	for _, at := range ats {
		rs.AddAttribute(at)
	}

	return rs, nil
}

// Translates a SCIM sort key to the LDAP attribute representing the
// same order, empty when the key has no server side order
func (rm *ResourceMapper) ToLdapSortKey(scimPath string) string {
	colonPos := strings.LastIndex(scimPath, base.URI_DELIM)
	if colonPos > 0 {
		scimPath = scimPath[colonPos+1:]
	}

	scimPath = strings.ToLower(scimPath)

	name := scimPath
	subAt := ""
	if dotPos := strings.IndexRune(scimPath, '.'); dotPos > 0 {
		name = scimPath[:dotPos]
		subAt = scimPath[dotPos+1:]
	}

	am := rm.atMap[name]
	if am == nil {
		return ""
	}

	if subAt != "" {
		if am.Kind == COMPLEX_MAPPER {
			for _, sat := range am.SubAts {
				if sat.SubAt == subAt {
					return sat.LdapAttr
				}
			}
		}

		if am.Kind == PLURAL_SIMPLE_MAPPER && subAt == "value" {
			return am.ToLdapSortKey()
		}

		return ""
	}

	return am.ToLdapSortKey()
}

// Resolves the DN template against the resource's attributes
func (rm *ResourceMapper) ConstructDN(rs *base.Resource) (string, error) {
	var sb strings.Builder

	for _, seg := range rm.dnSegments {
		if seg.atName == "" {
			sb.WriteString(seg.text)
			continue
		}

		at := rs.GetAttr(seg.atName)
		if at == nil || !at.IsSimple() {
			return "", base.NewBadRequestError(fmt.Sprintf("Cannot construct the DN, attribute %s is not present in the resource", seg.atName))
		}

		val := fmt.Sprintf("%v", at.GetSimpleAt().Values[0])
		sb.WriteString(ldap.EscapeDN(val))
	}

	return sb.String(), nil
}
