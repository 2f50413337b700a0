// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package ldap

import (
	"github.com/go-ldap/ldap/v3"
	"strings"
)

const (
	FILTER_AND = iota
	FILTER_OR
	FILTER_EQ
	FILTER_CO
	FILTER_SW
	FILTER_PR
	FILTER_GE
	FILTER_LE
)

// An LDAP search filter. The String form is the RFC 4515
// representation consumed by the downstream directory client.
//
// An OR with no components matches nothing and an AND with no
// components matches everything, both render and both are accepted
// by directory servers. The compiler relies on the empty OR as the
// always-false filter.
type LdapFilter struct {
	Op       int
	AttrType string
	Value    string
	Children []*LdapFilter
}

func NewAndFilter(children ...*LdapFilter) *LdapFilter {
	return &LdapFilter{Op: FILTER_AND, Children: children}
}

func NewOrFilter(children ...*LdapFilter) *LdapFilter {
	return &LdapFilter{Op: FILTER_OR, Children: children}
}

// The always-false filter, an OR with no components
func AlwaysFalseFilter() *LdapFilter {
	return NewOrFilter()
}

func NewEqualityFilter(attrType string, value string) *LdapFilter {
	return &LdapFilter{Op: FILTER_EQ, AttrType: attrType, Value: value}
}

func NewContainsFilter(attrType string, value string) *LdapFilter {
	return &LdapFilter{Op: FILTER_CO, AttrType: attrType, Value: value}
}

func NewStartsWithFilter(attrType string, value string) *LdapFilter {
	return &LdapFilter{Op: FILTER_SW, AttrType: attrType, Value: value}
}

func NewPresenceFilter(attrType string) *LdapFilter {
	return &LdapFilter{Op: FILTER_PR, AttrType: attrType}
}

func NewGreaterOrEqualFilter(attrType string, value string) *LdapFilter {
	return &LdapFilter{Op: FILTER_GE, AttrType: attrType, Value: value}
}

func NewLessOrEqualFilter(attrType string, value string) *LdapFilter {
	return &LdapFilter{Op: FILTER_LE, AttrType: attrType, Value: value}
}

func (lf *LdapFilter) String() string {
	var sb strings.Builder
	lf.write(&sb)
	return sb.String()
}

func (lf *LdapFilter) write(sb *strings.Builder) {
	sb.WriteRune('(')

	switch lf.Op {
	case FILTER_AND:
		sb.WriteRune('&')
		for _, c := range lf.Children {
			c.write(sb)
		}

	case FILTER_OR:
		sb.WriteRune('|')
		for _, c := range lf.Children {
			c.write(sb)
		}

	case FILTER_EQ:
		sb.WriteString(lf.AttrType)
		sb.WriteRune('=')
		sb.WriteString(ldap.EscapeFilter(lf.Value))

	case FILTER_CO:
		sb.WriteString(lf.AttrType)
		sb.WriteString("=*")
		sb.WriteString(ldap.EscapeFilter(lf.Value))
		sb.WriteRune('*')

	case FILTER_SW:
		sb.WriteString(lf.AttrType)
		sb.WriteRune('=')
		sb.WriteString(ldap.EscapeFilter(lf.Value))
		sb.WriteRune('*')

	case FILTER_PR:
		sb.WriteString(lf.AttrType)
		sb.WriteString("=*")

	case FILTER_GE:
		sb.WriteString(lf.AttrType)
		sb.WriteString(">=")
		sb.WriteString(ldap.EscapeFilter(lf.Value))

	case FILTER_LE:
		sb.WriteString(lf.AttrType)
		sb.WriteString("<=")
		sb.WriteString(ldap.EscapeFilter(lf.Value))
	}

	sb.WriteRune(')')
}
