// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.
package ldap

import (
	"bytes"
	"scimgate/schema"
	"strings"
	"testing"
)

func stringAtType(name string) *schema.AttrType {
	return &schema.AttrType{Name: name, NormName: strings.ToLower(name), Type: "string"}
}

func typedAtType(name string, dataType string) *schema.AttrType {
	return &schema.AttrType{Name: name, NormName: strings.ToLower(name), Type: dataType}
}

func TestLookupTransform(t *testing.T) {
	for _, name := range []string{"default", "generalizedTime", "postalAddress", "telephoneNumber", "POSTALADDRESS"} {
		tr, err := LookupTransform(name)
		if tr == nil || err != nil {
			t.Errorf("Failed to lookup the transformation %s", name)
		}
	}

	_, err := LookupTransform("rot13")
	if err == nil {
		t.Errorf("lookup of an unknown transformation must fail")
	}
}

func TestDefaultTransform(t *testing.T) {
	tr, _ := LookupTransform("default")

	// string
	octets, err := tr.ToLdapValue(stringAtType("userName"), "bjensen")
	if err != nil || string(octets) != "bjensen" {
		t.Errorf("wrong string conversion %s [%v]", octets, err)
	}

	// boolean, RFC 4517 form on the directory side
	octets, err = tr.ToLdapValue(typedAtType("active", "boolean"), true)
	if err != nil || string(octets) != "TRUE" {
		t.Errorf("wrong boolean conversion %s [%v]", octets, err)
	}

	v, err := tr.ToScimValue(typedAtType("active", "boolean"), []byte("FALSE"))
	if err != nil || v.(bool) != false {
		t.Errorf("wrong boolean conversion %v [%v]", v, err)
	}

	// integer
	octets, err = tr.ToLdapValue(typedAtType("uidNumber", "integer"), int64(1042))
	if err != nil || string(octets) != "1042" {
		t.Errorf("wrong integer conversion %s [%v]", octets, err)
	}

	v, err = tr.ToScimValue(typedAtType("uidNumber", "integer"), []byte("-7"))
	if err != nil || v.(int64) != -7 {
		t.Errorf("wrong integer conversion %v [%v]", v, err)
	}

	// binary, base64 on the SCIM side and raw bytes on the directory side
	octets, err = tr.ToLdapValue(typedAtType("photo", "binary"), "aGVsbG8=")
	if err != nil || !bytes.Equal(octets, []byte("hello")) {
		t.Errorf("wrong binary conversion %s [%v]", octets, err)
	}

	v, err = tr.ToScimValue(typedAtType("photo", "binary"), []byte("hello"))
	if err != nil || v.(string) != "aGVsbG8=" {
		t.Errorf("wrong binary conversion %v [%v]", v, err)
	}

	// datetime data is not among the supported types
	_, err = tr.ToLdapValue(typedAtType("created", "datetime"), "2011-08-01T21:32:44.882Z")
	if err == nil {
		t.Errorf("the default transformation must reject datetime data")
	}
}

func TestGeneralizedTimeTransform(t *testing.T) {
	tr, _ := LookupTransform("generalizedTime")
	atType := typedAtType("lastLogin", "datetime")

	octets, err := tr.ToLdapValue(atType, "2011-08-01T21:32:44.882Z")
	if err != nil || string(octets) != "20110801213244.882Z" {
		t.Errorf("wrong generalized time %s [%v]", octets, err)
	}

	// the instant is preserved in UTC regardless of the offset
	octets, err = tr.ToLdapValue(atType, "2011-08-01T21:32:44.882+05:30")
	if err != nil || string(octets) != "20110801160244.882Z" {
		t.Errorf("wrong generalized time %s [%v]", octets, err)
	}

	v, err := tr.ToScimValue(atType, []byte("20110801213244.882Z"))
	if err != nil || v.(string) != "2011-08-01T21:32:44.882Z" {
		t.Errorf("wrong SCIM datetime %v [%v]", v, err)
	}

	// a directory value without the fraction
	v, err = tr.ToScimValue(atType, []byte("20110801213244Z"))
	if err != nil || v.(string) != "2011-08-01T21:32:44.000Z" {
		t.Errorf("wrong SCIM datetime %v [%v]", v, err)
	}

	if fv := tr.ToLdapFilterValue("2011-08-01T21:32:44.882Z"); fv != "20110801213244.882Z" {
		t.Errorf("wrong filter value %s", fv)
	}

	_, err = tr.ToLdapValue(stringAtType("userName"), "x")
	if err == nil {
		t.Errorf("the generalizedTime transformation must reject string data")
	}

	_, err = tr.ToLdapValue(atType, "not-a-timestamp")
	if err == nil {
		t.Errorf("a malformed timestamp must be rejected")
	}
}

func TestPostalAddressTransform(t *testing.T) {
	tr, _ := LookupTransform("postalAddress")
	atType := stringAtType("formatted")

	octets, err := tr.ToLdapValue(atType, "100 Main St\nCity, ST 00000")
	if err != nil || string(octets) != "100 Main St$City, ST 00000" {
		t.Errorf("wrong postal address %s [%v]", octets, err)
	}

	// RFC 4517 escapes
	octets, _ = tr.ToLdapValue(atType, `5 Dollar $ Ave\Suite 9`)
	if string(octets) != `5 Dollar \24 Ave\5CSuite 9` {
		t.Errorf("wrong escaping %s", octets)
	}

	v, err := tr.ToScimValue(atType, []byte("100 Main St$City, ST 00000"))
	if err != nil || v.(string) != "100 Main St\nCity, ST 00000" {
		t.Errorf("wrong decoded address %v [%v]", v, err)
	}

	// an unknown escape sequence passes through unchanged
	v, _ = tr.ToScimValue(atType, []byte(`ab\9Zcd`))
	if v.(string) != `ab\9Zcd` {
		t.Errorf("an unknown escape must pass through, got %v", v)
	}

	// a dangling backslash at the end passes through unchanged
	v, _ = tr.ToScimValue(atType, []byte(`ab\`))
	if v.(string) != `ab\` {
		t.Errorf("a dangling backslash must pass through, got %v", v)
	}

	_, err = tr.ToLdapValue(typedAtType("active", "boolean"), true)
	if err == nil {
		t.Errorf("the postalAddress transformation must reject boolean data")
	}
}

// every $ or \ of the SCIM string must appear escaped on the
// directory side and decoding must recover the original
func TestPostalAddressRoundTrip(t *testing.T) {
	tr, _ := LookupTransform("postalAddress")
	atType := stringAtType("formatted")

	samples := []string{
		"plain",
		"two\nlines",
		"with $ dollar",
		`with \ backslash`,
		"a$b\\c\nd$$\\\\e",
		"",
		"$",
		"\\",
		"\n",
	}

	for _, s := range samples {
		octets, err := tr.ToLdapValue(atType, s)
		if err != nil {
			t.Errorf("Failed to encode %q [%v]", s, err)
			continue
		}

		encoded := string(octets)
		if strings.ContainsRune(encoded, '\n') {
			t.Errorf("the encoded form %q of %q contains a newline", encoded, s)
		}

		// after dropping the escape sequences a remaining \ would be
		// an escaping bug and every remaining $ is a line separator
		stripped := strings.ReplaceAll(encoded, `\24`, "")
		stripped = strings.ReplaceAll(stripped, `\5C`, "")
		if strings.ContainsRune(stripped, '\\') {
			t.Errorf("the encoded form %q of %q carries an unescaped backslash", encoded, s)
		}
		if strings.Count(stripped, "$") != strings.Count(s, "\n") {
			t.Errorf("the encoded form %q of %q carries an unescaped dollar", encoded, s)
		}

		v, err := tr.ToScimValue(atType, octets)
		if err != nil || v.(string) != s {
			t.Errorf("decode(encode(%q)) = %q [%v]", s, v, err)
		}
	}
}

func TestTelephoneNumberTransform(t *testing.T) {
	tr, _ := LookupTransform("telephoneNumber")
	atType := stringAtType("value")

	octets, err := tr.ToLdapValue(atType, "+1 555-123-4567")
	if err != nil || string(octets) != "+1 555-123-4567" {
		t.Errorf("the telephoneNumber transformation must store the value unchanged, got %s", octets)
	}

	if fv := tr.ToLdapFilterValue("+1 555-123-4567"); fv != "+15551234567" {
		t.Errorf("the filter form must drop spaces and dashes, got %s", fv)
	}

	_, err = tr.ToLdapValue(typedAtType("n", "integer"), int64(5))
	if err == nil {
		t.Errorf("the telephoneNumber transformation must reject integer data")
	}
}

// toLDAP . toSCIM must be idempotent for every transformation
func TestTransformIdempotence(t *testing.T) {
	cases := []struct {
		tr     string
		atType *schema.AttrType
		octets []byte
	}{
		{"default", stringAtType("userName"), []byte("bjensen")},
		{"default", typedAtType("active", "boolean"), []byte("true")},
		{"default", typedAtType("n", "integer"), []byte("42")},
		{"default", typedAtType("photo", "binary"), []byte{0x00, 0x01, 0xFF}},
		{"generalizedTime", typedAtType("t", "datetime"), []byte("20110801213244.882Z")},
		{"postalAddress", stringAtType("formatted"), []byte(`a$b\24c\5Cd`)},
		{"telephoneNumber", stringAtType("value"), []byte("555 123-4567")},
	}

	for _, c := range cases {
		tr, _ := LookupTransform(c.tr)

		v1, err := tr.ToScimValue(c.atType, c.octets)
		if err != nil {
			t.Errorf("[%s] failed to decode %q [%v]", c.tr, c.octets, err)
			continue
		}

		l1, err := tr.ToLdapValue(c.atType, v1)
		if err != nil {
			t.Errorf("[%s] failed to encode %v [%v]", c.tr, v1, err)
			continue
		}

		v2, _ := tr.ToScimValue(c.atType, l1)
		l2, _ := tr.ToLdapValue(c.atType, v2)

		if !bytes.Equal(l1, l2) {
			t.Errorf("[%s] not idempotent, %q != %q", c.tr, l1, l2)
		}
	}
}
