// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.
package base

import (
	"encoding/json"
	"scimgate/schema"
	"testing"
)

func userType(t *testing.T) *schema.ResourceType {
	reg, err := schema.DefaultRegistry()
	if err != nil {
		t.Fatal(err)
	}

	rt, err := reg.LookupResource("User")
	if err != nil {
		t.Fatal(err)
	}

	return rt
}

func TestParseResource(t *testing.T) {
	rt := userType(t)

	data := `{
		"schemas": ["urn:ietf:params:scim:schemas:core:2.0:User"],
		"userName": "bjensen",
		"active": true,
		"name": {"familyName": "Jensen", "givenName": "Barbara"},
		"emails": [
			{"value": "a@x", "type": "work", "primary": true},
			{"value": "b@y", "type": "home"}
		],
		"unknownAttr": "is dropped"
	}`

	rs, err := ParseResource(rt, []byte(data))
	if err != nil {
		t.Fatal(err)
	}

	if rs.GetAttr("userName").GetSimpleAt().GetStringVal() != "bjensen" {
		t.Errorf("wrong userName")
	}

	if rs.GetAttr("active").GetSimpleAt().Values[0] != true {
		t.Errorf("wrong active flag")
	}

	name := rs.GetAttr("name").GetComplexAt()
	if name.GetValue("familyName") != "Jensen" || name.GetValue("givenname") != "Barbara" {
		t.Errorf("wrong name sub-attributes")
	}

	emails := rs.GetAttr("emails").GetComplexAt()
	if len(emails.SubAts) != 2 {
		t.Fatalf("wrong number of email values %d", len(emails.SubAts))
	}

	// the order of the payload is preserved
	if emails.SubAts[0]["value"].Values[0] != "a@x" || emails.SubAts[1]["value"].Values[0] != "b@y" {
		t.Errorf("wrong email values")
	}

	if !emails.HasPrimarySet() {
		t.Errorf("the primary marker was lost")
	}

	if rs.GetAttr("unknownAttr") != nil {
		t.Errorf("an unknown attribute must be dropped")
	}
}

func TestUriPrefixedAccess(t *testing.T) {
	rt := userType(t)
	rs := NewResource(rt)
	rs.AddSA("userName", "bjensen")

	at := rs.GetAttr("urn:ietf:params:scim:schemas:core:2.0:User:userName")
	if at == nil || at.GetSimpleAt().GetStringVal() != "bjensen" {
		t.Errorf("Failed to access the attribute through its URI prefixed path")
	}

	// the URI part is case sensitive
	if rs.GetAttr("urn:ietf:params:scim:schemas:core:2.0:user:userName") != nil {
		t.Errorf("a wrong URI prefix must not resolve")
	}

	// the name part is not
	if rs.GetAttr("USERNAME") == nil {
		t.Errorf("attribute access must be case insensitive")
	}
}

func TestConvertValue(t *testing.T) {
	rt := userType(t)
	rs := NewResource(rt)

	if err := rs.AddSA("active", "notabool"); err == nil {
		t.Errorf("a malformed boolean must be rejected")
	}

	if err := rs.AddSA("userName", 42); err == nil {
		t.Errorf("a non string value of a string attribute must be rejected")
	}

	if err := rs.AddSA("shoeSize", "9"); err == nil {
		t.Errorf("an unknown attribute must be rejected")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	rt := userType(t)
	rs := NewResource(rt)
	rs.AddSA("userName", "bjensen")
	rs.AddCA("name", map[string]interface{}{"familyName": "Jensen"})
	rs.AddCA("emails", map[string]interface{}{"value": "a@x", "type": "work"})

	data := rs.Serialize()
	if data == nil {
		t.Fatal("serialization failed")
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatal(err)
	}

	if obj["userName"] != "bjensen" {
		t.Errorf("the serialized form uses the schema declared attribute name")
	}

	back, err := ParseResource(rt, data)
	if err != nil {
		t.Fatal(err)
	}

	if back.GetAttr("username").GetSimpleAt().GetStringVal() != "bjensen" {
		t.Errorf("round trip through JSON lost the userName")
	}

	if back.GetAttr("emails").GetComplexAt().GetValue("value") != "a@x" {
		t.Errorf("round trip through JSON lost the email value")
	}
}

func TestSingularComplexReplacement(t *testing.T) {
	rt := userType(t)
	rs := NewResource(rt)

	rs.AddCA("name", map[string]interface{}{"familyName": "Jensen"})
	rs.AddCA("name", map[string]interface{}{"familyName": "Smith"})

	name := rs.GetAttr("name").GetComplexAt()
	if len(name.SubAts) != 1 || name.GetValue("familyname") != "Smith" {
		t.Errorf("adding a singular complex attribute twice must keep only the last value")
	}
}
