// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.
package provider

import (
	"scimgate/base"
	"scimgate/conf"
	"scimgate/ldap"
	"scimgate/schema"
	"testing"
)

// the mappers built from the built-in mapping document, the same
// configuration a default gateway serves
func defaultMappers(t *testing.T) map[string]*ldap.ResourceMapper {
	reg, err := schema.DefaultRegistry()
	if err != nil {
		t.Fatal(err)
	}

	mappers, err := conf.LoadResourceMappers(reg, "")
	if err != nil {
		t.Fatal(err)
	}

	return mappers
}

func contains(list []string, val string) bool {
	for _, v := range list {
		if v == val {
			return true
		}
	}

	return false
}

func TestLdapAttrTypesProjection(t *testing.T) {
	rm := defaultMappers(t)["user"]

	// an empty projection requests every mapped attribute type
	types := ldapAttrTypes(rm, nil)
	for _, at := range []string{"entryUUID", "uid", "sn", "mail", "postalAddress"} {
		if !contains(types, at) {
			t.Errorf("the unprojected attribute list is missing %s", at)
		}
	}

	// a projection narrows the list but always keeps the id mapping
	types = ldapAttrTypes(rm, []string{"userName"})
	if !contains(types, "uid") || !contains(types, "entryUUID") {
		t.Errorf("the projected attribute list must carry uid and entryUUID, got %v", types)
	}

	if contains(types, "mail") || contains(types, "sn") {
		t.Errorf("the projected attribute list must not carry unrequested types, got %v", types)
	}
}

// readonly mappings bind operational attributes, they are read but
// never written or diffed
func TestWritableLdapAttrTypes(t *testing.T) {
	rm := defaultMappers(t)["user"]

	types := writableLdapAttrTypes(rm)

	for _, at := range []string{"entryUUID", "authTimestamp"} {
		if contains(types, at) {
			t.Errorf("the writable attribute list must not carry the readonly mapped %s", at)
		}
	}

	for _, at := range []string{"uid", "cn", "sn", "mail", "homeEmail", "postalAddress"} {
		if !contains(types, at) {
			t.Errorf("the writable attribute list is missing %s", at)
		}
	}
}

func TestWritableLdapAttributes(t *testing.T) {
	rm := defaultMappers(t)["user"]

	rs := base.NewResource(rm.ResType)
	rs.AddSA("id", "6a4b6a19-29dc-41d2-bc6b-07a54a4a0e8f")
	rs.AddSA("userName", "bjensen")
	rs.AddSA("lastLogin", "2011-08-01T21:32:44.882Z")
	rs.AddCA("name", map[string]interface{}{"familyName": "Jensen"})

	attrs, err := writableLdapAttributes(rm, rs)
	if err != nil {
		t.Fatal(err)
	}

	if attrs[0].Type != "objectClass" || len(attrs[0].Vals) != 4 {
		t.Errorf("the structural object classes must come first, got %v", attrs[0])
	}

	var sawUid, sawSn bool
	for _, at := range attrs {
		switch at.Type {
		case "uid":
			sawUid = true
		case "sn":
			sawSn = true
		case "entryUUID", "authTimestamp":
			t.Errorf("a readonly mapped attribute %s must never be written", at.Type)
		}
	}

	if !sawUid || !sawSn {
		t.Errorf("the writable attribute set is missing mapped values, got %v", attrs)
	}
}

func TestIdFilter(t *testing.T) {
	rm := defaultMappers(t)["user"]
	pr := &Provider{}

	filter, err := pr.idFilter(rm, "6a4b6a19-29dc-41d2-bc6b-07a54a4a0e8f")
	if err != nil {
		t.Fatal(err)
	}

	if filter != "(entryUUID=6a4b6a19-29dc-41d2-bc6b-07a54a4a0e8f)" {
		t.Errorf("wrong id filter %s", filter)
	}
}

func TestLdapSortKeyTranslation(t *testing.T) {
	pr := &Provider{Mappers: defaultMappers(t)}

	var keys = []struct {
		rt   string
		scim string
		ldap string
	}{
		{"User", "userName", "uid"},
		{"user", "name.familyName", "sn"},
		{"User", "emails", "mail"},
		{"Group", "displayName", "cn"},
		{"User", "nonexistent", ""},
		{"Device", "userName", ""},
	}

	for _, k := range keys {
		if got := pr.LdapSortKey(k.rt, k.scim); got != k.ldap {
			t.Errorf("wrong sort key of %s %s, expected %q but got %q", k.rt, k.scim, k.ldap, got)
		}
	}
}
