// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package conf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	logger "github.com/juju/loggo"
	"io"
	"io/ioutil"
	"scimgate/ldap"
	"scimgate/schema"
	"strings"
)

var log logger.Logger

func init() {
	log = logger.GetLogger("scimgate.conf")
}

// The built-in mapping document, used when no mapping file is
// configured. Maps the default User and Group resourcetypes onto
// inetOrgPerson and groupOfUniqueNames entries.
const Default_Mappings = `<resources>
	<resource name="User" searchBase="ou=Users,dc=example,dc=com">
		<objectClasses>
			<objectClass>top</objectClass>
			<objectClass>person</objectClass>
			<objectClass>organizationalPerson</objectClass>
			<objectClass>inetOrgPerson</objectClass>
		</objectClasses>
		<dnTemplate>uid={userName},ou=Users,dc=example,dc=com</dnTemplate>
		<attribute name="id">
			<simple ldapAttr="entryUUID"/>
		</attribute>
		<attribute name="userName">
			<simple ldapAttr="uid"/>
		</attribute>
		<attribute name="displayName">
			<simple ldapAttr="displayName"/>
		</attribute>
		<attribute name="title">
			<simple ldapAttr="title"/>
		</attribute>
		<attribute name="preferredLanguage">
			<simple ldapAttr="preferredLanguage"/>
		</attribute>
		<attribute name="lastLogin">
			<simple ldapAttr="authTimestamp" transform="generalizedTime"/>
		</attribute>
		<attribute name="name">
			<complex>
				<subAttribute name="formatted" ldapAttr="cn"/>
				<subAttribute name="familyName" ldapAttr="sn"/>
				<subAttribute name="givenName" ldapAttr="givenName"/>
			</complex>
		</attribute>
		<attribute name="emails">
			<simpleMultiValued>
				<mapping type="work" ldapAttr="mail"/>
				<mapping type="home" ldapAttr="homeEmail"/>
			</simpleMultiValued>
		</attribute>
		<attribute name="phoneNumbers">
			<simpleMultiValued>
				<mapping type="work" ldapAttr="telephoneNumber" transform="telephoneNumber"/>
				<mapping type="home" ldapAttr="homePhone" transform="telephoneNumber"/>
				<mapping type="mobile" ldapAttr="mobile" transform="telephoneNumber"/>
				<mapping type="fax" ldapAttr="facsimileTelephoneNumber" transform="telephoneNumber"/>
				<mapping type="pager" ldapAttr="pager" transform="telephoneNumber"/>
			</simpleMultiValued>
		</attribute>
		<attribute name="photos">
			<simpleMultiValued>
				<mapping type="photo" ldapAttr="jpegPhoto"/>
			</simpleMultiValued>
		</attribute>
		<attribute name="addresses">
			<complexMultiValued>
				<canonicalValue type="work">
					<subAttribute name="formatted" ldapAttr="postalAddress" transform="postalAddress"/>
					<subAttribute name="streetAddress" ldapAttr="street"/>
					<subAttribute name="locality" ldapAttr="l"/>
					<subAttribute name="region" ldapAttr="st"/>
					<subAttribute name="postalCode" ldapAttr="postalCode"/>
				</canonicalValue>
				<canonicalValue type="home">
					<subAttribute name="formatted" ldapAttr="homePostalAddress" transform="postalAddress"/>
				</canonicalValue>
			</complexMultiValued>
		</attribute>
	</resource>
	<resource name="Group" searchBase="ou=Groups,dc=example,dc=com">
		<objectClasses>
			<objectClass>top</objectClass>
			<objectClass>groupOfUniqueNames</objectClass>
		</objectClasses>
		<dnTemplate>cn={displayName},ou=Groups,dc=example,dc=com</dnTemplate>
		<attribute name="id">
			<simple ldapAttr="entryUUID"/>
		</attribute>
		<attribute name="displayName">
			<simple ldapAttr="cn"/>
		</attribute>
		<attribute name="members">
			<simpleMultiValued>
				<defaultMapping ldapAttr="uniqueMember"/>
			</simpleMultiValued>
		</attribute>
	</resource>
</resources>`

// configuration model of one parsed mapping document, every element
// remembers the line it was declared on so that build errors can be
// annotated

type simpleConf struct {
	LdapAttr  string
	Transform string
	Line      int
}

type subAttrConf struct {
	Name      string
	LdapAttr  string
	Transform string
	Line      int
}

type taggedConf struct {
	Type      string
	LdapAttr  string
	Transform string
	Line      int
}

type groupConf struct {
	Type   string
	SubAts []subAttrConf
	Line   int
}

type attrMappingConf struct {
	Name          string
	Line          int
	Simple        *simpleConf
	Complex       []subAttrConf
	Plural        []taggedConf
	PluralDefault *simpleConf
	Groups        []groupConf
	kind          string // the variant element name, used in error messages
}

type resourceMappingConf struct {
	Name          string
	SearchBase    string
	DnTemplate    string
	ObjectClasses []string
	Attributes    []attrMappingConf
	Line          int
}

type mappingsConf struct {
	Resources []resourceMappingConf
}

type mappingParser struct {
	d    *xml.Decoder
	data []byte
}

func (p *mappingParser) line() int {
	return 1 + bytes.Count(p.data[:p.d.InputOffset()], []byte{'\n'})
}

func (p *mappingParser) fail(line int, format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %s", line, fmt.Sprintf(format, args...))
}

func attrVal(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}

	return ""
}

// ParseMappings parses the XML mapping document into its
// configuration model
func ParseMappings(data []byte) (*mappingsConf, error) {
	p := &mappingParser{d: xml.NewDecoder(bytes.NewReader(data)), data: data}
	mc := &mappingsConf{}

	for {
		tok, err := p.d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, p.fail(p.line(), "%s", err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "resources":
			// container element

		case "resource":
			rc, err := p.parseResource(se)
			if err != nil {
				return nil, err
			}
			mc.Resources = append(mc.Resources, *rc)

		default:
			return nil, p.fail(p.line(), "unknown element <%s>", se.Name.Local)
		}
	}

	if len(mc.Resources) == 0 {
		return nil, fmt.Errorf("the mapping document contains no resource definitions")
	}

	return mc, nil
}

func (p *mappingParser) parseResource(start xml.StartElement) (*resourceMappingConf, error) {
	rc := &resourceMappingConf{Line: p.line()}
	rc.Name = attrVal(start, "name")
	rc.SearchBase = attrVal(start, "searchBase")

	if rc.Name == "" {
		return nil, p.fail(rc.Line, "the <resource> element requires a name attribute")
	}

	for {
		tok, err := p.d.Token()
		if err != nil {
			return nil, p.fail(p.line(), "%s", err)
		}

		if _, ok := tok.(xml.EndElement); ok {
			return rc, nil
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "objectClasses":
			ocs, err := p.parseObjectClasses()
			if err != nil {
				return nil, err
			}
			rc.ObjectClasses = ocs

		case "dnTemplate":
			var tmpl string
			if err := p.d.DecodeElement(&tmpl, &se); err != nil {
				return nil, p.fail(p.line(), "%s", err)
			}
			rc.DnTemplate = strings.TrimSpace(tmpl)

		case "attribute":
			ac, err := p.parseAttribute(se)
			if err != nil {
				return nil, err
			}
			rc.Attributes = append(rc.Attributes, *ac)

		default:
			return nil, p.fail(p.line(), "unknown element <%s> under <resource>", se.Name.Local)
		}
	}
}

func (p *mappingParser) parseObjectClasses() ([]string, error) {
	ocs := make([]string, 0)

	for {
		tok, err := p.d.Token()
		if err != nil {
			return nil, p.fail(p.line(), "%s", err)
		}

		if _, ok := tok.(xml.EndElement); ok {
			return ocs, nil
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if se.Name.Local != "objectClass" {
			return nil, p.fail(p.line(), "unknown element <%s> under <objectClasses>", se.Name.Local)
		}

		var oc string
		if err := p.d.DecodeElement(&oc, &se); err != nil {
			return nil, p.fail(p.line(), "%s", err)
		}

		ocs = append(ocs, strings.TrimSpace(oc))
	}
}

func (p *mappingParser) parseAttribute(start xml.StartElement) (*attrMappingConf, error) {
	ac := &attrMappingConf{Line: p.line()}
	ac.Name = attrVal(start, "name")

	if ac.Name == "" {
		return nil, p.fail(ac.Line, "the <attribute> element requires a name attribute")
	}

	for {
		tok, err := p.d.Token()
		if err != nil {
			return nil, p.fail(p.line(), "%s", err)
		}

		if _, ok := tok.(xml.EndElement); ok {
			if ac.kind == "" {
				return nil, p.fail(ac.Line, "attribute %s declares no mapping", ac.Name)
			}
			return ac, nil
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if ac.kind != "" {
			return nil, p.fail(p.line(), "attribute %s declares more than one mapping variant", ac.Name)
		}

		switch se.Name.Local {
		case "simple":
			ac.kind = se.Name.Local
			ac.Simple = &simpleConf{LdapAttr: attrVal(se, "ldapAttr"), Transform: attrVal(se, "transform"), Line: p.line()}
			if err := p.d.Skip(); err != nil {
				return nil, p.fail(p.line(), "%s", err)
			}

		case "complex":
			ac.kind = se.Name.Local
			subAts, err := p.parseSubAttributes("complex")
			if err != nil {
				return nil, err
			}
			ac.Complex = subAts

		case "simpleMultiValued":
			ac.kind = se.Name.Local
			if err := p.parsePlural(ac); err != nil {
				return nil, err
			}

		case "complexMultiValued":
			ac.kind = se.Name.Local
			if err := p.parsePluralComplex(ac); err != nil {
				return nil, err
			}

		default:
			return nil, p.fail(p.line(), "unknown mapping variant <%s> of attribute %s", se.Name.Local, ac.Name)
		}
	}
}

func (p *mappingParser) parseSubAttributes(parent string) ([]subAttrConf, error) {
	subAts := make([]subAttrConf, 0)

	for {
		tok, err := p.d.Token()
		if err != nil {
			return nil, p.fail(p.line(), "%s", err)
		}

		if _, ok := tok.(xml.EndElement); ok {
			return subAts, nil
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if se.Name.Local != "subAttribute" {
			return nil, p.fail(p.line(), "unknown element <%s> under <%s>", se.Name.Local, parent)
		}

		sc := subAttrConf{Name: attrVal(se, "name"), LdapAttr: attrVal(se, "ldapAttr"), Transform: attrVal(se, "transform"), Line: p.line()}
		if sc.Name == "" || sc.LdapAttr == "" {
			return nil, p.fail(sc.Line, "the <subAttribute> element requires name and ldapAttr attributes")
		}

		subAts = append(subAts, sc)

		if err := p.d.Skip(); err != nil {
			return nil, p.fail(p.line(), "%s", err)
		}
	}
}

func (p *mappingParser) parsePlural(ac *attrMappingConf) error {
	for {
		tok, err := p.d.Token()
		if err != nil {
			return p.fail(p.line(), "%s", err)
		}

		if _, ok := tok.(xml.EndElement); ok {
			return nil
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "mapping":
			tc := taggedConf{Type: attrVal(se, "type"), LdapAttr: attrVal(se, "ldapAttr"), Transform: attrVal(se, "transform"), Line: p.line()}
			if tc.Type == "" || tc.LdapAttr == "" {
				return p.fail(tc.Line, "the <mapping> element requires type and ldapAttr attributes")
			}
			ac.Plural = append(ac.Plural, tc)

		case "defaultMapping":
			if ac.PluralDefault != nil {
				return p.fail(p.line(), "attribute %s declares more than one <defaultMapping>", ac.Name)
			}
			ac.PluralDefault = &simpleConf{LdapAttr: attrVal(se, "ldapAttr"), Transform: attrVal(se, "transform"), Line: p.line()}
			if ac.PluralDefault.LdapAttr == "" {
				return p.fail(ac.PluralDefault.Line, "the <defaultMapping> element requires a ldapAttr attribute")
			}

		default:
			return p.fail(p.line(), "unknown element <%s> under <simpleMultiValued>", se.Name.Local)
		}

		if err := p.d.Skip(); err != nil {
			return p.fail(p.line(), "%s", err)
		}
	}
}

func (p *mappingParser) parsePluralComplex(ac *attrMappingConf) error {
	for {
		tok, err := p.d.Token()
		if err != nil {
			return p.fail(p.line(), "%s", err)
		}

		if _, ok := tok.(xml.EndElement); ok {
			return nil
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if se.Name.Local != "canonicalValue" {
			return p.fail(p.line(), "unknown element <%s> under <complexMultiValued>", se.Name.Local)
		}

		gc := groupConf{Type: attrVal(se, "type"), Line: p.line()}
		if gc.Type == "" {
			return p.fail(gc.Line, "the <canonicalValue> element requires a type attribute")
		}

		subAts, err := p.parseSubAttributes("canonicalValue")
		if err != nil {
			return err
		}

		gc.SubAts = subAts
		ac.Groups = append(ac.Groups, gc)
	}
}

// builder, turns the configuration model into resource mappers

func lookupTransform(name string, line int) (ldap.Transformation, error) {
	if name == "" {
		name = "default"
	}

	t, err := ldap.LookupTransform(name)
	if err != nil {
		return nil, fmt.Errorf("line %d: unknown transformation %s", line, name)
	}

	return t, nil
}

// BuildResourceMappers resolves a parsed mapping document against the
// schema registry and returns the resource mappers keyed by the
// lowercase resource name
func BuildResourceMappers(reg *schema.Registry, mc *mappingsConf) (map[string]*ldap.ResourceMapper, error) {
	mappers := make(map[string]*ldap.ResourceMapper)

	for _, rc := range mc.Resources {
		rt, err := reg.LookupResource(rc.Name)
		if err != nil {
			return nil, fmt.Errorf("line %d: unknown resourcetype %s", rc.Line, rc.Name)
		}

		atMappers := make([]*ldap.AttributeMapper, 0, len(rc.Attributes))

		for _, ac := range rc.Attributes {
			am, err := buildAttrMapper(rt, &ac)
			if err != nil {
				return nil, err
			}
			atMappers = append(atMappers, am)
		}

		rm, err := ldap.NewResourceMapper(rt, rc.ObjectClasses, rc.SearchBase, rc.DnTemplate, atMappers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s", rc.Line, err)
		}

		mappers[strings.ToLower(rt.Name)] = rm
		log.Debugf("built the resource mapper of %s with %d attribute mappings", rt.Name, len(atMappers))
	}

	return mappers, nil
}

func buildAttrMapper(rt *schema.ResourceType, ac *attrMappingConf) (*ldap.AttributeMapper, error) {
	atType := rt.GetAtType(ac.Name)
	if atType == nil {
		return nil, fmt.Errorf("line %d: unknown attribute %s of resourcetype %s", ac.Line, ac.Name, rt.Name)
	}

	switch ac.kind {
	case "simple":
		if ac.Simple.LdapAttr == "" {
			return nil, fmt.Errorf("line %d: the <simple> element requires a ldapAttr attribute", ac.Simple.Line)
		}

		t, err := lookupTransform(ac.Simple.Transform, ac.Simple.Line)
		if err != nil {
			return nil, err
		}

		return ldap.NewSimpleMapper(atType, ldap.AttributeTransformation{LdapAttr: ac.Simple.LdapAttr, Transform: t}), nil

	case "complex":
		subAts, err := buildSubAts(ac.Complex)
		if err != nil {
			return nil, err
		}

		am, err := ldap.NewComplexMapper(atType, subAts)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s", ac.Line, err)
		}
		return am, nil

	case "simpleMultiValued":
		tagged := make([]ldap.TaggedTransformation, 0, len(ac.Plural))
		for _, tc := range ac.Plural {
			t, err := lookupTransform(tc.Transform, tc.Line)
			if err != nil {
				return nil, err
			}

			tagged = append(tagged, ldap.TaggedTransformation{Tag: tc.Type, AttributeTransformation: ldap.AttributeTransformation{LdapAttr: tc.LdapAttr, Transform: t}})
		}

		var defaultAt *ldap.AttributeTransformation
		if ac.PluralDefault != nil {
			t, err := lookupTransform(ac.PluralDefault.Transform, ac.PluralDefault.Line)
			if err != nil {
				return nil, err
			}
			defaultAt = &ldap.AttributeTransformation{LdapAttr: ac.PluralDefault.LdapAttr, Transform: t}
		}

		am, err := ldap.NewPluralSimpleMapper(atType, tagged, defaultAt)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s", ac.Line, err)
		}
		return am, nil

	case "complexMultiValued":
		groups := make([]ldap.CanonicalValueGroup, 0, len(ac.Groups))
		for _, gc := range ac.Groups {
			subAts, err := buildSubAts(gc.SubAts)
			if err != nil {
				return nil, err
			}

			groups = append(groups, ldap.CanonicalValueGroup{Tag: gc.Type, SubAts: subAts})
		}

		am, err := ldap.NewPluralComplexMapper(atType, groups)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s", ac.Line, err)
		}
		return am, nil
	}

	return nil, fmt.Errorf("line %d: attribute %s declares no mapping", ac.Line, ac.Name)
}

func buildSubAts(confs []subAttrConf) ([]ldap.SubAttributeTransformation, error) {
	subAts := make([]ldap.SubAttributeTransformation, 0, len(confs))

	for _, sc := range confs {
		t, err := lookupTransform(sc.Transform, sc.Line)
		if err != nil {
			return nil, err
		}

		subAts = append(subAts, ldap.SubAttributeTransformation{SubAt: strings.ToLower(sc.Name), AttributeTransformation: ldap.AttributeTransformation{LdapAttr: sc.LdapAttr, Transform: t}})
	}

	return subAts, nil
}

// LoadResourceMappers reads the mapping document from the given file,
// or the built-in document when the name is empty, and builds the
// resource mappers against the registry
func LoadResourceMappers(reg *schema.Registry, file string) (map[string]*ldap.ResourceMapper, error) {
	data := []byte(Default_Mappings)

	if file != "" {
		var err error
		data, err = ioutil.ReadFile(file)
		if err != nil {
			return nil, err
		}
	}

	mc, err := ParseMappings(data)
	if err != nil {
		return nil, err
	}

	return BuildResourceMappers(reg, mc)
}
