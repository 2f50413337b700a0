// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package ldap

import (
	"fmt"
	"github.com/go-ldap/ldap/v3"
	logger "github.com/juju/loggo"
	"scimgate/base"
	"scimgate/schema"
	"strings"
)

var log logger.Logger

func init() {
	log = logger.GetLogger("scimgate.ldap")
}

// The four kinds of attribute mappings. The set is closed, every
// operation dispatches on the kind.
const (
	SIMPLE_MAPPER = iota
	COMPLEX_MAPPER
	PLURAL_SIMPLE_MAPPER
	PLURAL_COMPLEX_MAPPER
)

// Binds one LDAP attribute type to a value transformation
type AttributeTransformation struct {
	LdapAttr  string
	Transform Transformation
}

// Binds one SCIM sub-attribute to an LDAP attribute under a
// transformation
type SubAttributeTransformation struct {
	SubAt string // lowercase sub-attribute name
	AttributeTransformation
}

// Binds one type tag of a plural simple attribute to an LDAP attribute
type TaggedTransformation struct {
	Tag string
	AttributeTransformation
}

// One canonical value group of a plural complex mapping, binding a
// type tag to a set of per-sub-attribute LDAP attributes
type CanonicalValueGroup struct {
	Tag    string
	SubAts []SubAttributeTransformation
}

// An AttributeMapper binds one SCIM attribute to one or more LDAP
// attributes. Mappers are built once from the mapping configuration
// and never modified afterwards.
type AttributeMapper struct {
	Kind   int
	AtType *schema.AttrType

	// SIMPLE_MAPPER
	At AttributeTransformation

	// COMPLEX_MAPPER
	SubAts []SubAttributeTransformation

	// PLURAL_SIMPLE_MAPPER
	Tagged    []TaggedTransformation
	DefaultAt *AttributeTransformation

	// PLURAL_COMPLEX_MAPPER
	Groups []CanonicalValueGroup
}

func NewSimpleMapper(atType *schema.AttrType, at AttributeTransformation) *AttributeMapper {
	return &AttributeMapper{Kind: SIMPLE_MAPPER, AtType: atType, At: at}
}

func NewComplexMapper(atType *schema.AttrType, subAts []SubAttributeTransformation) (*AttributeMapper, error) {
	am := &AttributeMapper{Kind: COMPLEX_MAPPER, AtType: atType, SubAts: subAts}
	err := am.validateSubAts(atType, subAts)
	if err != nil {
		return nil, err
	}

	return am, nil
}

func NewPluralSimpleMapper(atType *schema.AttrType, tagged []TaggedTransformation, defaultAt *AttributeTransformation) (*AttributeMapper, error) {
	seen := make(map[string]bool)
	for _, tt := range tagged {
		tag := strings.ToLower(tt.Tag)
		if seen[tag] {
			return nil, fmt.Errorf("Duplicate canonical type %s in the mapping of attribute %s", tt.Tag, atType.Name)
		}
		seen[tag] = true
	}

	return &AttributeMapper{Kind: PLURAL_SIMPLE_MAPPER, AtType: atType, Tagged: tagged, DefaultAt: defaultAt}, nil
}

func NewPluralComplexMapper(atType *schema.AttrType, groups []CanonicalValueGroup) (*AttributeMapper, error) {
	am := &AttributeMapper{Kind: PLURAL_COMPLEX_MAPPER, AtType: atType, Groups: groups}

	seen := make(map[string]bool)
	for _, g := range groups {
		tag := strings.ToLower(g.Tag)
		if seen[tag] {
			return nil, fmt.Errorf("Duplicate canonical type %s in the mapping of attribute %s", g.Tag, atType.Name)
		}
		seen[tag] = true

		err := am.validateSubAts(atType, g.SubAts)
		if err != nil {
			return nil, err
		}
	}

	return am, nil
}

func (am *AttributeMapper) validateSubAts(atType *schema.AttrType, subAts []SubAttributeTransformation) error {
	for _, sat := range subAts {
		if atType.SubAttrMap[sat.SubAt] == nil {
			return fmt.Errorf("Attribute %s has no sub-attribute named %s", atType.Name, sat.SubAt)
		}
	}

	return nil
}

// The lowercase name of the SCIM attribute this mapper serves
func (am *AttributeMapper) ScimAttrName() string {
	return am.AtType.NormName
}

func (am *AttributeMapper) scimAttrPath() string {
	return am.AtType.SchemaId + base.URI_DELIM + am.AtType.NormName
}

// The LDAP attribute types this mapper reads and writes, in the
// declared order
func (am *AttributeMapper) LdapAttributeTypes() []string {
	types := make([]string, 0)
	seen := make(map[string]bool)

	add := func(name string) {
		key := strings.ToLower(name)
		if !seen[key] {
			seen[key] = true
			types = append(types, name)
		}
	}

	switch am.Kind {
	case SIMPLE_MAPPER:
		add(am.At.LdapAttr)

	case COMPLEX_MAPPER:
		for _, sat := range am.SubAts {
			add(sat.LdapAttr)
		}

	case PLURAL_SIMPLE_MAPPER:
		for _, tt := range am.Tagged {
			add(tt.LdapAttr)
		}
		if am.DefaultAt != nil {
			add(am.DefaultAt.LdapAttr)
		}

	case PLURAL_COMPLEX_MAPPER:
		for _, g := range am.Groups {
			for _, sat := range g.SubAts {
				add(sat.LdapAttr)
			}
		}
	}

	return types
}

// collects LDAP attribute values preserving the order in which the
// attribute types were first written
type ldapAttrCollector struct {
	order []string
	vals  map[string][]string
}

func newLdapAttrCollector() *ldapAttrCollector {
	return &ldapAttrCollector{vals: make(map[string][]string)}
}

func (c *ldapAttrCollector) add(attrType string, octets []byte) {
	if _, ok := c.vals[attrType]; !ok {
		c.order = append(c.order, attrType)
	}

	c.vals[attrType] = append(c.vals[attrType], string(octets))
}

func (c *ldapAttrCollector) appendTo(attrs *[]ldap.Attribute) {
	for _, at := range c.order {
		*attrs = append(*attrs, ldap.Attribute{Type: at, Vals: c.vals[at]})
	}
}

// Appends the LDAP attributes mapped from this mapper's SCIM
// attribute, when the resource carries it
func (am *AttributeMapper) ToLdapAttributes(rs *base.Resource, attrs *[]ldap.Attribute) error {
	at := rs.GetAttr(am.scimAttrPath())
	if at == nil {
		at = rs.GetAttr(am.AtType.NormName)
	}
	if at == nil {
		return nil
	}

	switch am.Kind {
	case SIMPLE_MAPPER:
		if !at.IsSimple() {
			return nil
		}

		sa := at.GetSimpleAt()
		coll := newLdapAttrCollector()
		for _, v := range sa.Values {
			octets, err := am.At.Transform.ToLdapValue(am.AtType, v)
			if err != nil {
				return err
			}
			coll.add(am.At.LdapAttr, octets)
		}
		coll.appendTo(attrs)

	case COMPLEX_MAPPER:
		if at.IsSimple() {
			return nil
		}

		value := at.GetComplexAt().GetFirstSubAt()
		if value == nil {
			return nil
		}

		coll := newLdapAttrCollector()
		for _, sat := range am.SubAts {
			sa := value[sat.SubAt]
			if sa == nil {
				continue
			}

			octets, err := sat.Transform.ToLdapValue(am.AtType.SubAttrMap[sat.SubAt], sa.Values[0])
			if err != nil {
				return err
			}
			coll.add(sat.LdapAttr, octets)
		}
		coll.appendTo(attrs)

	case PLURAL_SIMPLE_MAPPER:
		if at.IsSimple() {
			return nil
		}

		valueType := am.AtType.SubAttrMap["value"]
		coll := newLdapAttrCollector()

		for _, valueMap := range at.GetComplexAt().SubAts {
			valSa := valueMap["value"]
			if valSa == nil {
				continue
			}

			trans := am.taggedTransformation(subAtString(valueMap, "type"))
			if trans == nil {
				// no recognized type and no default attribute declared
				continue
			}

			octets, err := trans.Transform.ToLdapValue(valueType, valSa.Values[0])
			if err != nil {
				return err
			}
			coll.add(trans.LdapAttr, octets)
		}
		coll.appendTo(attrs)

	case PLURAL_COMPLEX_MAPPER:
		if at.IsSimple() {
			return nil
		}

		coll := newLdapAttrCollector()
		for _, valueMap := range at.GetComplexAt().SubAts {
			tag := subAtString(valueMap, "type")
			group := am.canonicalGroup(tag)
			if group == nil {
				log.Debugf("dropping value of attribute %s with unrecognized type %s", am.AtType.Name, tag)
				continue
			}

			for _, sat := range group.SubAts {
				sa := valueMap[sat.SubAt]
				if sa == nil {
					continue
				}

				octets, err := sat.Transform.ToLdapValue(am.AtType.SubAttrMap[sat.SubAt], sa.Values[0])
				if err != nil {
					return err
				}
				coll.add(sat.LdapAttr, octets)
			}
		}
		coll.appendTo(attrs)
	}

	return nil
}

func subAtString(valueMap map[string]*base.SimpleAttribute, name string) string {
	sa := valueMap[name]
	if sa == nil {
		return ""
	}

	s, _ := sa.Values[0].(string)
	return s
}

// the transformation serving the given type tag, the default when the
// tag is unrecognized, nil when there is no default either
func (am *AttributeMapper) taggedTransformation(tag string) *AttributeTransformation {
	for i := range am.Tagged {
		if strings.EqualFold(am.Tagged[i].Tag, tag) {
			return &am.Tagged[i].AttributeTransformation
		}
	}

	return am.DefaultAt
}

func (am *AttributeMapper) isTaggedLdapAttr(ldapAttr string) bool {
	for i := range am.Tagged {
		if strings.EqualFold(am.Tagged[i].LdapAttr, ldapAttr) {
			return true
		}
	}

	return false
}

func (am *AttributeMapper) canonicalGroup(tag string) *CanonicalValueGroup {
	for i := range am.Groups {
		if strings.EqualFold(am.Groups[i].Tag, tag) {
			return &am.Groups[i]
		}
	}

	return nil
}

// Assembles the SCIM attribute from the entry, nil when none of the
// mapped LDAP attributes is present
func (am *AttributeMapper) ToScimAttribute(entry *ldap.Entry) (base.Attribute, error) {
	switch am.Kind {
	case SIMPLE_MAPPER:
		vals := entry.GetEqualFoldRawAttributeValues(am.At.LdapAttr)
		if len(vals) == 0 {
			return nil, nil
		}

		v, err := am.At.Transform.ToScimValue(am.AtType, vals[0])
		if err != nil {
			return nil, err
		}

		return base.NewSimpleAt(am.AtType, v), nil

	case COMPLEX_MAPPER:
		subAts := make(map[string]*base.SimpleAttribute)
		for _, sat := range am.SubAts {
			vals := entry.GetEqualFoldRawAttributeValues(sat.LdapAttr)
			if len(vals) == 0 {
				continue
			}

			subType := am.AtType.SubAttrMap[sat.SubAt]
			v, err := sat.Transform.ToScimValue(subType, vals[0])
			if err != nil {
				return nil, err
			}

			subAts[sat.SubAt] = base.NewSimpleAt(subType, v)
		}

		if len(subAts) == 0 {
			return nil, nil
		}

		ca := base.NewComplexAt(am.AtType)
		ca.SubAts = append(ca.SubAts, subAts)
		return ca, nil

	case PLURAL_SIMPLE_MAPPER:
		valueType := am.AtType.SubAttrMap["value"]
		typeType := am.AtType.SubAttrMap["type"]
		primaryType := am.AtType.SubAttrMap["primary"]

		ca := base.NewComplexAt(am.AtType)
		first := true

		for _, tt := range am.Tagged {
			for _, octets := range entry.GetEqualFoldRawAttributeValues(tt.LdapAttr) {
				v, err := tt.Transform.ToScimValue(valueType, octets)
				if err != nil {
					return nil, err
				}

				valueMap := map[string]*base.SimpleAttribute{
					"value": base.NewSimpleAt(valueType, v),
					"type":  base.NewSimpleAt(typeType, tt.Tag),
				}

				if first {
					valueMap["primary"] = base.NewSimpleAt(primaryType, true)
					first = false
				}

				ca.SubAts = append(ca.SubAts, valueMap)
			}
		}

		// the default attribute, when it is not already bound to a
		// tag, yields untyped entries
		if am.DefaultAt != nil && !am.isTaggedLdapAttr(am.DefaultAt.LdapAttr) {
			for _, octets := range entry.GetEqualFoldRawAttributeValues(am.DefaultAt.LdapAttr) {
				v, err := am.DefaultAt.Transform.ToScimValue(valueType, octets)
				if err != nil {
					return nil, err
				}

				valueMap := map[string]*base.SimpleAttribute{
					"value": base.NewSimpleAt(valueType, v),
				}

				if first {
					valueMap["primary"] = base.NewSimpleAt(primaryType, true)
					first = false
				}

				ca.SubAts = append(ca.SubAts, valueMap)
			}
		}

		if len(ca.SubAts) == 0 {
			return nil, nil
		}

		return ca, nil

	case PLURAL_COMPLEX_MAPPER:
		typeType := am.AtType.SubAttrMap["type"]
		primaryType := am.AtType.SubAttrMap["primary"]

		ca := base.NewComplexAt(am.AtType)
		first := true

		for _, g := range am.Groups {
			valueMap := make(map[string]*base.SimpleAttribute)

			for _, sat := range g.SubAts {
				vals := entry.GetEqualFoldRawAttributeValues(sat.LdapAttr)
				if len(vals) == 0 {
					continue
				}

				subType := am.AtType.SubAttrMap[sat.SubAt]
				v, err := sat.Transform.ToScimValue(subType, vals[0])
				if err != nil {
					return nil, err
				}

				valueMap[sat.SubAt] = base.NewSimpleAt(subType, v)
			}

			if len(valueMap) == 0 {
				continue
			}

			valueMap["type"] = base.NewSimpleAt(typeType, g.Tag)
			if first {
				valueMap["primary"] = base.NewSimpleAt(primaryType, true)
				first = false
			}

			ca.SubAts = append(ca.SubAts, valueMap)
		}

		if len(ca.SubAts) == 0 {
			return nil, nil
		}

		return ca, nil
	}

	return nil, base.NewInternalserverError(fmt.Sprintf("Unknown mapper kind %d", am.Kind))
}

// Translates a filter expression whose attribute path targets this
// mapper's SCIM attribute. The translation is total, unsatisfiable
// expressions become the always-false filter.
func (am *AttributeMapper) ToLdapFilter(fn *base.FilterNode) (*LdapFilter, error) {
	switch am.Kind {
	case SIMPLE_MAPPER:
		return simpleLdapFilter(fn.Op, am.At.LdapAttr, fn.Value, am.At.Transform)

	case COMPLEX_MAPPER:
		// a complex attribute itself has no directory value, only a
		// sub-attribute can be matched
		if fn.SubAt == "" {
			return AlwaysFalseFilter(), nil
		}

		for _, sat := range am.SubAts {
			if sat.SubAt == fn.SubAt {
				return simpleLdapFilter(fn.Op, sat.LdapAttr, fn.Value, sat.Transform)
			}
		}

		return AlwaysFalseFilter(), nil

	case PLURAL_SIMPLE_MAPPER:
		switch fn.SubAt {
		case "", "value":
			children := make([]*LdapFilter, 0, len(am.Tagged)+1)
			for _, at := range am.pluralTransformations() {
				f, err := simpleLdapFilter(fn.Op, at.LdapAttr, fn.Value, at.Transform)
				if err != nil {
					return nil, err
				}
				children = append(children, f)
			}

			return NewOrFilter(children...), nil

		case "type":
			// only an equality match on a recognized type can be
			// satisfied, it selects the LDAP attribute bound to the tag
			if fn.Op != "EQ" {
				return AlwaysFalseFilter(), nil
			}

			for _, tt := range am.Tagged {
				if strings.EqualFold(tt.Tag, fn.Value) {
					return NewPresenceFilter(tt.LdapAttr), nil
				}
			}

			return AlwaysFalseFilter(), nil
		}

		return AlwaysFalseFilter(), nil

	case PLURAL_COMPLEX_MAPPER:
		if fn.SubAt == "" {
			return AlwaysFalseFilter(), nil
		}

		if fn.SubAt == "type" {
			if fn.Op != "EQ" {
				return AlwaysFalseFilter(), nil
			}

			group := am.canonicalGroup(fn.Value)
			if group == nil {
				return AlwaysFalseFilter(), nil
			}

			children := make([]*LdapFilter, 0, len(group.SubAts))
			for _, sat := range group.SubAts {
				children = append(children, NewPresenceFilter(sat.LdapAttr))
			}

			return NewOrFilter(children...), nil
		}

		children := make([]*LdapFilter, 0, len(am.Groups))
		for _, g := range am.Groups {
			for _, sat := range g.SubAts {
				if sat.SubAt != fn.SubAt {
					continue
				}

				f, err := simpleLdapFilter(fn.Op, sat.LdapAttr, fn.Value, sat.Transform)
				if err != nil {
					return nil, err
				}
				children = append(children, f)
			}
		}

		return NewOrFilter(children...), nil
	}

	return nil, base.NewInternalserverError(fmt.Sprintf("Unknown mapper kind %d", am.Kind))
}

// the tagged transformations followed by the default one when it is
// not already among them
func (am *AttributeMapper) pluralTransformations() []AttributeTransformation {
	ats := make([]AttributeTransformation, 0, len(am.Tagged)+1)
	seen := make(map[string]bool)

	for _, tt := range am.Tagged {
		key := strings.ToLower(tt.LdapAttr)
		if !seen[key] {
			seen[key] = true
			ats = append(ats, tt.AttributeTransformation)
		}
	}

	if am.DefaultAt != nil {
		key := strings.ToLower(am.DefaultAt.LdapAttr)
		if !seen[key] {
			ats = append(ats, *am.DefaultAt)
		}
	}

	return ats
}

// The LDAP attribute representing the sort order of this mapper's
// SCIM attribute, empty when the attribute cannot serve as a sort key
func (am *AttributeMapper) ToLdapSortKey() string {
	switch am.Kind {
	case SIMPLE_MAPPER:
		return am.At.LdapAttr

	case PLURAL_SIMPLE_MAPPER:
		if am.DefaultAt != nil {
			return am.DefaultAt.LdapAttr
		}
		if len(am.Tagged) > 0 {
			return am.Tagged[0].LdapAttr
		}
	}

	return ""
}

// the translation table for the simple filter operations, the value
// passes through the transformation's filter form first
func simpleLdapFilter(op string, ldapAttr string, value string, tr Transformation) (*LdapFilter, error) {
	var fv string
	if op != "PR" {
		fv = tr.ToLdapFilterValue(value)
	}

	switch op {
	case "EQ":
		return NewEqualityFilter(ldapAttr, fv), nil

	case "CO":
		return NewContainsFilter(ldapAttr, fv), nil

	case "SW":
		return NewStartsWithFilter(ldapAttr, fv), nil

	case "PR":
		return NewPresenceFilter(ldapAttr), nil

	case "GT", "GE":
		// LDAP has no strict greater-than, gt is widened to >= and
		// the caller re-filters the overmatch
		return NewGreaterOrEqualFilter(ldapAttr, fv), nil

	case "LT", "LE":
		return NewLessOrEqualFilter(ldapAttr, fv), nil
	}

	return nil, base.NewInternalserverError(fmt.Sprintf("Unsupported filter operation %s", op))
}
