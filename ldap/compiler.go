// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package ldap

import (
	"fmt"
	"scimgate/base"
)

// ToLdapFilter compiles a parsed SCIM filter expression into the
// semantically equivalent LDAP filter.
//
// Compilation is total. A leaf whose attribute has no mapping
// compiles to the always-false filter so that a broader disjunction
// can still match, it never raises. The only error path is an
// operator tag the parser cannot produce, which indicates a bug.
//
// The compiled filter may overmatch, SCIM gt widens to the directory's
// >= and case sensitivity follows the directory's matching rules. The
// caller re-filters the results against the SCIM model.
func (rm *ResourceMapper) ToLdapFilter(fn *base.FilterNode) (*LdapFilter, error) {
	switch fn.Op {
	case "AND":
		children, err := rm.compileChildren(fn)
		if err != nil {
			return nil, err
		}

		return NewAndFilter(children...), nil

	case "OR":
		children, err := rm.compileChildren(fn)
		if err != nil {
			return nil, err
		}

		return NewOrFilter(children...), nil
	}

	am := rm.atMap[fn.Name]
	if am == nil {
		log.Debugf("no mapping for the filter attribute %s of resource %s", fn.Name, rm.ResType.Name)
		return AlwaysFalseFilter(), nil
	}

	if fn.URI != "" && fn.URI != am.AtType.SchemaId {
		return AlwaysFalseFilter(), nil
	}

	if !isFilterOp(fn.Op) {
		return nil, base.NewInternalserverError(fmt.Sprintf("Unknown filter operation %s", fn.Op))
	}

	return am.ToLdapFilter(fn)
}

func (rm *ResourceMapper) compileChildren(fn *base.FilterNode) ([]*LdapFilter, error) {
	children := make([]*LdapFilter, 0, len(fn.Children))
	for _, c := range fn.Children {
		f, err := rm.ToLdapFilter(c)
		if err != nil {
			return nil, err
		}
		children = append(children, f)
	}

	return children, nil
}

func isFilterOp(op string) bool {
	switch op {
	case "EQ", "CO", "SW", "PR", "GT", "GE", "LT", "LE":
		return true
	}

	return false
}
