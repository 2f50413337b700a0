// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.
package ldap

import (
	"scimgate/base"
	"testing"
)

func compile(t *testing.T, rm *ResourceMapper, filter string) string {
	fn, err := base.ParseFilter(filter)
	if err != nil {
		t.Fatalf("Failed to parse the filter %s [%v]", filter, err)
	}

	lf, err := rm.ToLdapFilter(fn)
	if err != nil {
		t.Fatalf("Failed to compile the filter %s [%v]", filter, err)
	}

	return lf.String()
}

func TestCompileFilters(t *testing.T) {
	rm := testUserMapper(t)

	var filters = []struct {
		scim string
		ldap string
	}{
		// F1, a simple equality
		{`userName eq 'bjensen'`, `(uid=bjensen)`},

		// F2, a compound filter over a complex sub-attribute and a
		// plural value
		{`(name.familyName sw 'Jen' and emails.value co '@x')`, `(&(sn=Jen*)(|(mail=*@x*)(homeEmail=*@x*)))`},

		// F3, presence on a plural attribute spans every mapped
		// LDAP attribute
		{`emails pr`, `(|(mail=*)(homeEmail=*))`},

		// F4, an unmapped attribute compiles to the always-false
		// filter
		{`nonexistent eq 'foo'`, `(|)`},

		// the remaining operators
		{`userName co 'jen'`, `(uid=*jen*)`},
		{`userName sw 'bj'`, `(uid=bj*)`},
		{`userName pr`, `(uid=*)`},
		{`userName ge 'b'`, `(uid>=b)`},
		{`userName le 'b'`, `(uid<=b)`},

		// gt and lt widen to the directory's closest operator
		{`userName gt 'b'`, `(uid>=b)`},
		{`userName lt 'b'`, `(uid<=b)`},

		// logical nodes
		{`userName eq 'a' or displayName eq 'b'`, `(|(uid=a)(displayName=b))`},
		{`userName eq 'a' and displayName eq 'b' and emails pr`, `(&(uid=a)(displayName=b)(|(mail=*)(homeEmail=*)))`},

		// a complex attribute without a sub-attribute path cannot be
		// satisfied
		{`name eq 'Barbara'`, `(|)`},
		{`name.unknown eq 'x'`, `(|)`},

		// a type constraint on a plural selects the tag bound
		// attribute
		{`emails.type eq 'work'`, `(mail=*)`},
		{`emails.type eq 'WORK'`, `(mail=*)`},
		{`emails.type eq 'holiday'`, `(|)`},
		{`emails.type sw 'wo'`, `(|)`},
		{`emails.primary eq true`, `(|)`},

		// plural complex sub-attributes disperse over the canonical
		// groups that bind them
		{`addresses.formatted co 'Main'`, `(|(postalAddress=*Main*)(homePostalAddress=*Main*))`},
		{`addresses.locality eq 'Springfield'`, `(|(l=Springfield))`},
		{`addresses.type eq 'home'`, `(|(homePostalAddress=*))`},
		{`addresses.type eq 'dorm'`, `(|)`},
		{`addresses eq 'x'`, `(|)`},

		// a schema URI prefix selects the same mapping
		{`urn:ietf:params:scim:schemas:core:2.0:User:userName eq 'bjensen'`, `(uid=bjensen)`},

		// a wrong URI prefix cannot match
		{`urn:other:schema:userName eq 'bjensen'`, `(|)`},
	}

	for _, f := range filters {
		if got := compile(t, rm, f.scim); got != f.ldap {
			t.Errorf("the filter %s compiled to %s, expected %s", f.scim, got, f.ldap)
		}
	}
}

// special characters of the filter value are escaped per RFC 4515
func TestCompileEscaping(t *testing.T) {
	rm := testUserMapper(t)

	if got := compile(t, rm, `userName eq 'a(b)c\\d*e'`); got != `(uid=a\28b\29c\5cd\2ae)` {
		t.Errorf("wrong escaped filter %s", got)
	}
}

// the telephoneNumber transformation canonicalizes the filter value
func TestCompileTelephoneFilter(t *testing.T) {
	rm := testUserMapper(t)

	if got := compile(t, rm, `phoneNumbers.value eq '555 123-4567'`); got != `(|(telephoneNumber=5551234567)(homePhone=5551234567))` {
		t.Errorf("wrong telephone filter %s", got)
	}
}

// the generalizedTime transformation rewrites datetime filter values
func TestCompileDateTimeFilter(t *testing.T) {
	rm := testUserMapper(t)

	if got := compile(t, rm, `lastLogin ge '2011-08-01T21:32:44.882Z'`); got != `(authTimestamp>=20110801213244.882Z)` {
		t.Errorf("wrong datetime filter %s", got)
	}
}

// compilation is total, a filter mixing unmapped attributes still
// compiles and the mapped legs remain useful
func TestCompileMixedFilter(t *testing.T) {
	rm := testUserMapper(t)

	if got := compile(t, rm, `nonexistent eq 'a' or userName eq 'b'`); got != `(|(|)(uid=b))` {
		t.Errorf("wrong mixed filter %s", got)
	}
}

// an operator the parser cannot produce raises an internal error
func TestCompileUnknownOp(t *testing.T) {
	rm := testUserMapper(t)

	_, err := rm.ToLdapFilter(&base.FilterNode{Op: "NE", Name: "username", Value: "x"})
	if err == nil {
		t.Fatal("an unknown operator must raise an internal error")
	}

	se, ok := err.(*base.ScimError)
	if !ok || se.Code() != 500 {
		t.Errorf("expected an internal error, got %v", err)
	}
}
