// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package ldap

import (
	"encoding/base64"
	"fmt"
	"scimgate/base"
	"scimgate/schema"
	"strconv"
	"strings"
	"time"
)

// generalized-time forms, with and without the fraction. The Z0700
// element accepts both "Z" and a numeric offset.
const gtMillisLayout = "20060102150405.000Z0700"

const gtSecondsLayout = "20060102150405Z0700"

// the SCIM side of a datetime, ISO-8601 with millisecond precision
const scimTimeLayout = "2006-01-02T15:04:05.000Z"

// A Transformation converts between the SCIM representation of a
// simple value and the octet string stored in the directory. Every
// transformation is a pair of pure functions plus a third used only
// during filter compilation.
type Transformation interface {
	// converts a SCIM value to the directory octet string
	ToLdapValue(atType *schema.AttrType, val interface{}) ([]byte, error)
	// converts a directory octet string to the SCIM value
	ToScimValue(atType *schema.AttrType, octets []byte) (interface{}, error)
	// converts a SCIM filter value to the form used in LDAP filters
	ToLdapFilterValue(scimFilterValue string) string
}

var transforms = map[string]Transformation{
	"default":         &defaultTransform{},
	"generalizedtime": &generalizedTimeTransform{},
	"postaladdress":   &postalAddressTransform{},
	"telephonenumber": &telephoneNumberTransform{},
}

// Returns the transformation registered under the given identifier,
// identifiers are case insensitive
func LookupTransform(name string) (Transformation, error) {
	t := transforms[strings.ToLower(name)]
	if t == nil {
		return nil, fmt.Errorf("No transformation found with the name %s", name)
	}

	return t, nil
}

func unsupported(name string, atType *schema.AttrType) *base.ScimError {
	return base.NewUnsupportedConversionError(fmt.Sprintf("The %s transformation cannot be applied to %s data of the attribute %s", name, atType.Type, atType.Name))
}

// default

type defaultTransform struct {
}

func (t *defaultTransform) ToLdapValue(atType *schema.AttrType, val interface{}) ([]byte, error) {
	switch strings.ToLower(atType.Type) {
	case "string", "reference":
		s, ok := val.(string)
		if !ok {
			return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Invalid value for the string attribute %s", atType.Name))
		}
		return []byte(s), nil

	case "boolean":
		b, ok := val.(bool)
		if !ok {
			return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Invalid value for the boolean attribute %s", atType.Name))
		}
		// RFC 4517 Boolean form
		if b {
			return []byte("TRUE"), nil
		}
		return []byte("FALSE"), nil

	case "integer":
		i, ok := val.(int64)
		if !ok {
			return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Invalid value for the integer attribute %s", atType.Name))
		}
		return []byte(strconv.FormatInt(i, 10)), nil

	case "binary":
		// the SCIM side of a binary value is base64 encoded, the
		// directory holds the raw bytes
		s, ok := val.(string)
		if !ok {
			return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Invalid value for the binary attribute %s", atType.Name))
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Value of the binary attribute %s is not valid base64 data", atType.Name))
		}
		return raw, nil
	}

	return nil, unsupported("default", atType)
}

func (t *defaultTransform) ToScimValue(atType *schema.AttrType, octets []byte) (interface{}, error) {
	switch strings.ToLower(atType.Type) {
	case "string", "reference":
		return string(octets), nil

	case "boolean":
		b, err := strconv.ParseBool(strings.ToLower(string(octets)))
		if err != nil {
			return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Directory value of the boolean attribute %s is malformed", atType.Name))
		}
		return b, nil

	case "integer":
		i, err := strconv.ParseInt(string(octets), 10, 64)
		if err != nil {
			return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Directory value of the integer attribute %s is malformed", atType.Name))
		}
		return i, nil

	case "binary":
		return base64.StdEncoding.EncodeToString(octets), nil
	}

	return nil, unsupported("default", atType)
}

func (t *defaultTransform) ToLdapFilterValue(scimFilterValue string) string {
	return scimFilterValue
}

// generalizedTime

type generalizedTimeTransform struct {
}

func (t *generalizedTimeTransform) ToLdapValue(atType *schema.AttrType, val interface{}) ([]byte, error) {
	if strings.ToLower(atType.Type) != "datetime" {
		return nil, unsupported("generalizedTime", atType)
	}

	s, ok := val.(string)
	if !ok {
		return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Invalid value for the datetime attribute %s", atType.Name))
	}

	tm, err := parseScimTime(s)
	if err != nil {
		return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Value of the datetime attribute %s is not a valid ISO-8601 timestamp", atType.Name))
	}

	return []byte(tm.UTC().Format(gtMillisLayout)), nil
}

func (t *generalizedTimeTransform) ToScimValue(atType *schema.AttrType, octets []byte) (interface{}, error) {
	if strings.ToLower(atType.Type) != "datetime" {
		return nil, unsupported("generalizedTime", atType)
	}

	tm, err := parseGeneralizedTime(string(octets))
	if err != nil {
		return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Directory value of the datetime attribute %s is not a valid generalized time", atType.Name))
	}

	return tm.UTC().Format(scimTimeLayout), nil
}

func (t *generalizedTimeTransform) ToLdapFilterValue(scimFilterValue string) string {
	tm, err := parseScimTime(scimFilterValue)
	if err != nil {
		// leave a malformed value untouched, the directory will not
		// match it
		return scimFilterValue
	}

	return tm.UTC().Format(gtMillisLayout)
}

func parseScimTime(s string) (time.Time, error) {
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Parse("2006-01-02T15:04:05.000Z07:00", s)
	}

	return tm, nil
}

func parseGeneralizedTime(s string) (time.Time, error) {
	tm, err := time.Parse(gtMillisLayout, s)
	if err != nil {
		return time.Parse(gtSecondsLayout, s)
	}

	return tm, nil
}

// postalAddress

type postalAddressTransform struct {
}

func (t *postalAddressTransform) ToLdapValue(atType *schema.AttrType, val interface{}) ([]byte, error) {
	if !atType.IsStringType() {
		return nil, unsupported("postalAddress", atType)
	}

	s, ok := val.(string)
	if !ok {
		return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Invalid value for the string attribute %s", atType.Name))
	}

	return []byte(postalToLdap(s)), nil
}

func (t *postalAddressTransform) ToScimValue(atType *schema.AttrType, octets []byte) (interface{}, error) {
	if !atType.IsStringType() {
		return nil, unsupported("postalAddress", atType)
	}

	return postalToScim(string(octets)), nil
}

func (t *postalAddressTransform) ToLdapFilterValue(scimFilterValue string) string {
	return postalToLdap(scimFilterValue)
}

// From RFC 4517: each line of a postal address value is encoded as a
// UTF-8 string, except that "\" and "$" characters, if they occur in
// the string, are escaped by a "\" character followed by the two
// hexadecimal digit code for the character. Lines are joined by "$".
func postalToLdap(s string) string {
	var sb strings.Builder
	for _, c := range s {
		switch c {
		case '\n':
			sb.WriteRune('$')
		case '\\':
			sb.WriteString(`\5C`)
		case '$':
			sb.WriteString(`\24`)
		default:
			sb.WriteRune(c)
		}
	}

	return sb.String()
}

func postalToScim(s string) string {
	var sb strings.Builder

	rb := []rune(s)
	i := 0
	for i < len(rb) {
		c := rb[i]
		switch c {
		case '\\':
			if i+3 > len(rb) {
				// not valid but let it pass untouched
				sb.WriteRune(c)
				i++
			} else {
				hex := string(rb[i+1 : i+3])
				if strings.EqualFold(hex, "5C") {
					sb.WriteRune('\\')
				} else if hex == "24" {
					sb.WriteRune('$')
				} else {
					// not valid but let it pass untouched
					sb.WriteRune(c)
					sb.WriteString(hex)
				}
				i += 3
			}

		case '$':
			sb.WriteRune('\n')
			i++

		default:
			sb.WriteRune(c)
			i++
		}
	}

	return sb.String()
}

// telephoneNumber

type telephoneNumberTransform struct {
}

func (t *telephoneNumberTransform) ToLdapValue(atType *schema.AttrType, val interface{}) ([]byte, error) {
	if !atType.IsStringType() {
		return nil, unsupported("telephoneNumber", atType)
	}

	s, ok := val.(string)
	if !ok {
		return nil, base.NewUnsupportedConversionError(fmt.Sprintf("Invalid value for the string attribute %s", atType.Name))
	}

	return []byte(s), nil
}

func (t *telephoneNumberTransform) ToScimValue(atType *schema.AttrType, octets []byte) (interface{}, error) {
	if !atType.IsStringType() {
		return nil, unsupported("telephoneNumber", atType)
	}

	return string(octets), nil
}

// some servers hold telephone numbers in the canonical form without
// spaces and dashes, strip them so that equality filters match
func (t *telephoneNumberTransform) ToLdapFilterValue(scimFilterValue string) string {
	var sb strings.Builder
	for _, c := range scimFilterValue {
		if c == ' ' || c == '-' {
			continue
		}
		sb.WriteRune(c)
	}

	return sb.String()
}
