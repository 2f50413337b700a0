// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.
package base

import (
	"reflect"
	"strings"
	"testing"
)

func TestSimpleFilter(t *testing.T) {
	var filters = []struct {
		f    string
		pass bool
		op   string // root node's operator name
	}{
		{`userName eq 'bjensen'`, true, "eq"},
		{`(   userName eq 'bje\'n\\s en')`, true, "eq"},
		{`userName eq 'bjensen' and emails co 'example.com'`, true, "and"},
		{`userName eq 'bjensen' or emails co 'example.com'`, true, "or"},
		{`emails pr`, true, "pr"},
		{`(emails pr)`, true, "pr"},
		{`active eq true`, true, "eq"},
		{`active eq false`, true, "eq"},
		{`employeeNumber gt 100`, true, "gt"},
		{`employeeNumber le -5`, true, "le"},
		{`meta.created ge '2011-05-13T04:42:34Z'`, true, "ge"},
		{`urn:ietf:params:scim:schemas:core:2.0:User:userName sw 'J'`, true, "sw"},
		{`name.familyName co 'Jensen'`, true, "co"},
		{`userName eq 'bjensen`, false, ""},
		{`userName eq`, false, ""},
		{`userName xx 'bjensen'`, false, ""},
		{`userName eq bjensen`, false, ""}, // a bare literal must be a boolean or an integer
		{`userName eq 'a' and`, false, ""},
		{`(userName eq 'a'`, false, ""},
		{`userName eq 'a')`, false, ""},
		{`'quoted' eq 'a'`, false, ""},
		{`eq eq`, false, ""},
	}

	for _, f := range filters {
		xpr, err := ParseFilter(f.f)
		if f.pass {
			if xpr == nil || err != nil {
				t.Errorf("Failed to parse the valid filter %s [%v]", f.f, err)
				continue
			}

			if xpr.Op != strings.ToUpper(f.op) {
				t.Errorf("Invalid root node, expected '%s' but found '%s' after parsing the filter %s", f.op, xpr.Op, f.f)
			}
		} else {
			if xpr != nil || err == nil {
				t.Errorf("Expected to fail parsing of the filter %s, but it succeeded", f.f)
			}
		}
	}
}

func TestOperatorPrecedence(t *testing.T) {
	// and binds tighter than or
	xpr, err := ParseFilter(`userName eq 'a' or name.familyName eq 'b' and emails co 'c'`)
	if err != nil {
		t.Fatal(err)
	}

	if xpr.Op != "OR" || len(xpr.Children) != 2 {
		t.Fatalf("wrong root node %s", xpr.Op)
	}

	if xpr.Children[0].Op != "EQ" || xpr.Children[0].Name != "username" {
		t.Errorf("wrong first child")
	}

	if xpr.Children[1].Op != "AND" || len(xpr.Children[1].Children) != 2 {
		t.Errorf("wrong second child")
	}

	// parentheses override the precedence
	xpr, err = ParseFilter(`(userName eq 'a' or name.familyName eq 'b') and emails co 'c'`)
	if err != nil {
		t.Fatal(err)
	}

	if xpr.Op != "AND" || xpr.Children[0].Op != "OR" {
		t.Errorf("parentheses did not override the precedence, root is %s", xpr.Op)
	}
}

func TestChainedOperands(t *testing.T) {
	xpr, err := ParseFilter(`userName eq 'a' and displayName eq 'b' and emails co 'c'`)
	if err != nil {
		t.Fatal(err)
	}

	if xpr.Op != "AND" || len(xpr.Children) != 3 {
		t.Fatalf("a chain of and operands must collect under one node, found %d children", len(xpr.Children))
	}
}

func TestAttrPathParsing(t *testing.T) {
	var paths = []struct {
		f     string
		uri   string
		name  string
		subAt string
	}{
		{`userName eq 'x'`, "", "username", ""},
		{`name.familyName eq 'x'`, "", "name", "familyname"},
		{`urn:ietf:params:scim:schemas:core:2.0:User:userName eq 'x'`, "urn:ietf:params:scim:schemas:core:2.0:User", "username", ""},
		{`urn:ietf:params:scim:schemas:core:2.0:User:name.givenName eq 'x'`, "urn:ietf:params:scim:schemas:core:2.0:User", "name", "givenname"},
	}

	for _, p := range paths {
		xpr, err := ParseFilter(p.f)
		if err != nil {
			t.Errorf("Failed to parse the filter %s [%v]", p.f, err)
			continue
		}

		if xpr.URI != p.uri || xpr.Name != p.name || xpr.SubAt != p.subAt {
			t.Errorf("wrong attribute path of %s, got (%s, %s, %s)", p.f, xpr.URI, xpr.Name, xpr.SubAt)
		}
	}
}

func TestValueEscapes(t *testing.T) {
	xpr, err := ParseFilter(`displayName eq 'a\'b\\c\nd\te'`)
	if err != nil {
		t.Fatal(err)
	}

	if xpr.Value != "a'b\\c\nd\te" {
		t.Errorf("wrong unescaped value %q", xpr.Value)
	}

	_, err = ParseFilter(`displayName eq 'a\qb'`)
	if err == nil {
		t.Errorf("an unknown escape sequence must fail")
	}
}

func TestPrinterRoundTrip(t *testing.T) {
	filters := []string{
		`userName eq 'bjensen'`,
		`emails pr`,
		`active eq true`,
		`employeeNumber gt 100`,
		`displayName eq 'a\'b\\c\nd\te'`,
		`userName eq 'a' or name.familyName eq 'b' and emails co 'c'`,
		`(userName eq 'a' or name.familyName eq 'b') and emails co 'c'`,
		`urn:ietf:params:scim:schemas:core:2.0:User:name.givenName sw 'Bar'`,
		`userName eq 'a' and displayName eq 'b' and emails co 'c' or emails.type eq 'work'`,
	}

	for _, f := range filters {
		first, err := ParseFilter(f)
		if err != nil {
			t.Errorf("Failed to parse the filter %s [%v]", f, err)
			continue
		}

		second, err := ParseFilter(first.String())
		if err != nil {
			t.Errorf("Failed to re-parse the printed filter %s [%v]", first.String(), err)
			continue
		}

		if !reflect.DeepEqual(first, second) {
			t.Errorf("the printed form %s of the filter %s does not parse back to the same tree", first.String(), f)
		}
	}
}

func TestErrorPosition(t *testing.T) {
	_, err := ParseFilter(`userName eq bjensen`)
	if err == nil {
		t.Fatal("expected a parse failure")
	}

	se := err.(*ScimError)
	if se.ScimType != ST_INVALIDFILTER {
		t.Errorf("wrong scimType %s", se.ScimType)
	}

	if !strings.Contains(se.Detail, "position 12") {
		t.Errorf("the error detail %q does not name the position of the bad token", se.Detail)
	}
}
