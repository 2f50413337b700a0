// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package base

import (
	"encoding/json"
	"fmt"
	logger "github.com/juju/loggo"
	"scimgate/schema"
	"strconv"
	"strings"
)

const URI_DELIM = ":"

const ATTR_DELIM = "."

var log logger.Logger

func init() {
	log = logger.GetLogger("scimgate.base")
}

type Attribute interface {
	IsSimple() bool
	GetSimpleAt() *SimpleAttribute
	GetComplexAt() *ComplexAttribute
	GetType() *schema.AttrType
}

// Name will always be stored in lowercase in all Attributes, to get the
// original user provided name, refer to the Name field of AttrType
type SimpleAttribute struct {
	atType *schema.AttrType
	Name   string
	Values []interface{}
}

// A complex attribute holds one set of sub-attributes per value.
// The values are kept in a slice, not a map, the order in which they
// were added is significant on a round-trip through the directory.
type ComplexAttribute struct {
	atType *schema.AttrType
	Name   string
	SubAts []map[string]*SimpleAttribute
}

type AtGroup struct {
	SimpleAts  map[string]*SimpleAttribute
	ComplexAts map[string]*ComplexAttribute
}

type Resource struct {
	resType  *schema.ResourceType
	TypeName string // resourcetype's name
	Core     *AtGroup
	Ext      map[string]*AtGroup
}

// Attribute contract

func (sa *SimpleAttribute) IsSimple() bool {
	return true
}

func (sa *SimpleAttribute) GetType() *schema.AttrType {
	return sa.atType
}

// returns the first string value no type conversion is performed
// so this call will only work if the values are of type string
func (sa *SimpleAttribute) GetStringVal() string {
	return sa.Values[0].(string)
}

func (sa *SimpleAttribute) GetSimpleAt() *SimpleAttribute {
	return sa
}

func (sa *SimpleAttribute) GetComplexAt() *ComplexAttribute {
	panic("Not a complex attribute")
}

func (ca *ComplexAttribute) IsSimple() bool {
	return false
}

func (ca *ComplexAttribute) GetType() *schema.AttrType {
	return ca.atType
}

func (ca *ComplexAttribute) GetSimpleAt() *SimpleAttribute {
	panic("Not a simple attribute")
}

func (ca *ComplexAttribute) GetComplexAt() *ComplexAttribute {
	return ca
}

func NewSimpleAt(atType *schema.AttrType, vals ...interface{}) *SimpleAttribute {
	sa := &SimpleAttribute{}
	sa.atType = atType
	sa.Name = atType.NormName
	sa.Values = vals

	return sa
}

func NewComplexAt(atType *schema.AttrType) *ComplexAttribute {
	ca := &ComplexAttribute{}
	ca.Name = atType.NormName
	ca.atType = atType
	ca.SubAts = make([]map[string]*SimpleAttribute, 0)

	return ca
}

// Appends one value, a set of sub-attributes, to the complex attribute.
// A singular complex attribute keeps only the value added last.
func (ca *ComplexAttribute) AddSubAts(subAtMap map[string]interface{}) error {
	subAt, err := ParseSubAtList(subAtMap, ca.atType)
	if err != nil {
		return err
	}

	if !ca.atType.MultiValued && len(ca.SubAts) > 0 {
		ca.SubAts = ca.SubAts[:0]
	}

	ca.SubAts = append(ca.SubAts, subAt)
	return nil
}

// Returns the first value of the named sub-attribute from the first
// value of this complex attribute, nil when absent
func (ca *ComplexAttribute) GetValue(subAtName string) interface{} {
	if len(ca.SubAts) == 0 {
		return nil
	}

	sa := ca.SubAts[0][strings.ToLower(subAtName)]
	if sa == nil {
		return nil
	}

	return sa.Values[0]
}

func (ca *ComplexAttribute) GetFirstSubAt() map[string]*SimpleAttribute {
	if len(ca.SubAts) == 0 {
		return nil
	}

	return ca.SubAts[0]
}

func (ca *ComplexAttribute) HasPrimarySet() bool {
	for _, sMap := range ca.SubAts {
		if sa, ok := sMap["primary"]; ok {
			if primary, _ := sa.Values[0].(bool); primary {
				return true
			}
		}
	}

	return false
}

func (atg *AtGroup) getAttribute(name string) Attribute {
	if atg == nil {
		return nil
	}

	if v, ok := atg.SimpleAts[name]; ok {
		return v
	}

	if v, ok := atg.ComplexAts[name]; ok {
		return v
	}

	return nil
}

func newAtGroup() *AtGroup {
	return &AtGroup{SimpleAts: make(map[string]*SimpleAttribute), ComplexAts: make(map[string]*ComplexAttribute)}
}

func NewResource(rt *schema.ResourceType) *Resource {
	rs := &Resource{}
	rs.resType = rt
	rs.TypeName = rt.Name
	rs.Core = newAtGroup()
	rs.Ext = make(map[string]*AtGroup)

	return rs
}

func (rs *Resource) GetType() *schema.ResourceType {
	return rs.resType
}

// Returns the attribute present at the given path, nil when there is
// none. The path may carry a schema URI prefix, the URI is matched
// case sensitively and the attribute name is not.
func (rs *Resource) GetAttr(attrPath string) Attribute {
	pos := strings.LastIndex(attrPath, URI_DELIM)
	if pos > 0 {
		uri := attrPath[:pos] // URI is case sensitive
		attrPath = strings.ToLower(attrPath[pos+1:])

		if uri == rs.resType.Schema {
			return rs.Core.getAttribute(attrPath)
		}

		return rs.Ext[uri].getAttribute(attrPath)
	}

	attrPath = strings.ToLower(attrPath)
	at := rs.Core.getAttribute(attrPath)
	if at != nil {
		return at
	}

	for _, atg := range rs.Ext {
		at = atg.getAttribute(attrPath)
		if at != nil {
			return at
		}
	}

	return nil
}

func (rs *Resource) atGroupFor(atType *schema.AttrType) *AtGroup {
	if atType.SchemaId == rs.resType.Schema || atType.SchemaId == "" {
		return rs.Core
	}

	atg := rs.Ext[atType.SchemaId]
	if atg == nil {
		atg = newAtGroup()
		rs.Ext[atType.SchemaId] = atg
	}

	return atg
}

// Adds an already assembled attribute to the resource, replacing any
// existing attribute of the same name
func (rs *Resource) AddAttribute(at Attribute) {
	atg := rs.atGroupFor(at.GetType())
	if at.IsSimple() {
		atg.SimpleAts[at.GetSimpleAt().Name] = at.GetSimpleAt()
	} else {
		atg.ComplexAts[at.GetComplexAt().Name] = at.GetComplexAt()
	}
}

// Adds a simple attribute with the given values after converting each
// of them to the type demanded by the attribute's definition
func (rs *Resource) AddSA(name string, vals ...interface{}) error {
	atType := rs.resType.GetAtType(name)
	if atType == nil {
		return NewBadRequestError("Unknown attribute " + name)
	}

	converted := make([]interface{}, len(vals))
	for i, v := range vals {
		cv, err := ConvertValue(atType, v)
		if err != nil {
			return err
		}
		converted[i] = cv
	}

	rs.AddAttribute(NewSimpleAt(atType, converted...))
	return nil
}

// Adds a complex attribute built from the given sub-attribute maps
func (rs *Resource) AddCA(name string, subAtMaps ...map[string]interface{}) error {
	atType := rs.resType.GetAtType(name)
	if atType == nil {
		return NewBadRequestError("Unknown attribute " + name)
	}

	ca := NewComplexAt(atType)
	for _, m := range subAtMaps {
		err := ca.AddSubAts(m)
		if err != nil {
			return err
		}
	}

	rs.AddAttribute(ca)
	return nil
}

// Builds the sub-attribute list of one complex value from a map of
// native values keyed by sub-attribute name
func ParseSubAtList(subAtMap map[string]interface{}, atType *schema.AttrType) (map[string]*SimpleAttribute, error) {
	subAts := make(map[string]*SimpleAttribute)

	for name, val := range subAtMap {
		name = strings.ToLower(name)
		subType := atType.SubAttrMap[name]
		if subType == nil {
			log.Debugf("dropping unknown sub-attribute %s of attribute %s", name, atType.Name)
			continue
		}

		cv, err := ConvertValue(subType, val)
		if err != nil {
			return nil, err
		}

		subAts[name] = NewSimpleAt(subType, cv)
	}

	return subAts, nil
}

// Converts the given native value to the representation demanded by
// the attribute's data type. Strings hold string, reference, datetime
// and binary (base64) values, bool holds booleans and int64 holds
// integers.
func ConvertValue(atType *schema.AttrType, val interface{}) (interface{}, error) {
	switch strings.ToLower(atType.Type) {
	case "string", "reference", "datetime", "binary":
		switch v := val.(type) {
		case string:
			return v, nil
		default:
			return nil, NewBadRequestError(fmt.Sprintf("Invalid value %v for the attribute %s", val, atType.Name))
		}

	case "boolean":
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, NewBadRequestError(fmt.Sprintf("Invalid boolean value %s for the attribute %s", v, atType.Name))
			}
			return b, nil
		default:
			return nil, NewBadRequestError(fmt.Sprintf("Invalid value %v for the attribute %s", val, atType.Name))
		}

	case "integer":
		switch v := val.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64: // JSON numbers arrive as float64
			return int64(v), nil
		case string:
			i, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, NewBadRequestError(fmt.Sprintf("Invalid integer value %s for the attribute %s", v, atType.Name))
			}
			return i, nil
		default:
			return nil, NewBadRequestError(fmt.Sprintf("Invalid value %v for the attribute %s", val, atType.Name))
		}

	case "decimal":
		switch v := val.(type) {
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, NewBadRequestError(fmt.Sprintf("Invalid decimal value %s for the attribute %s", v, atType.Name))
			}
			return f, nil
		default:
			return nil, NewBadRequestError(fmt.Sprintf("Invalid value %v for the attribute %s", val, atType.Name))
		}
	}

	return nil, NewBadRequestError(fmt.Sprintf("Unknown data type %s of the attribute %s", atType.Type, atType.Name))
}

// JSON form of the resource, used by the REST layer. The core operates
// on the parsed object model, never on this representation.
func (rs *Resource) ToJsonObject() map[string]interface{} {
	obj := make(map[string]interface{})

	schemas := make([]string, 0, 1+len(rs.Ext))
	schemas = append(schemas, rs.resType.Schema)
	for uri := range rs.Ext {
		schemas = append(schemas, uri)
	}
	obj["schemas"] = schemas

	addGroupToObject(rs.Core, obj)

	for uri, atg := range rs.Ext {
		extObj := make(map[string]interface{})
		addGroupToObject(atg, extObj)
		obj[uri] = extObj
	}

	return obj
}

func addGroupToObject(atg *AtGroup, obj map[string]interface{}) {
	for _, sa := range atg.SimpleAts {
		if sa.atType.MultiValued {
			obj[sa.atType.Name] = sa.Values
		} else {
			obj[sa.atType.Name] = sa.Values[0]
		}
	}

	for _, ca := range atg.ComplexAts {
		vals := make([]map[string]interface{}, 0, len(ca.SubAts))
		for _, subAtMap := range ca.SubAts {
			val := make(map[string]interface{})
			for _, sa := range subAtMap {
				val[sa.atType.Name] = sa.Values[0]
			}
			vals = append(vals, val)
		}

		if ca.atType.MultiValued {
			obj[ca.atType.Name] = vals
		} else if len(vals) > 0 {
			obj[ca.atType.Name] = vals[0]
		}
	}
}

func (rs *Resource) Serialize() []byte {
	data, err := json.Marshal(rs.ToJsonObject())
	if err != nil {
		log.Warningf("Failed to serialize the resource %s", err)
		return nil
	}

	return data
}

// Parses the given JSON payload into a resource of the given type.
// Unknown attributes are dropped silently.
func ParseResource(rt *schema.ResourceType, data []byte) (*Resource, error) {
	var obj map[string]interface{}
	err := json.Unmarshal(data, &obj)
	if err != nil {
		return nil, NewBadRequestError("Invalid JSON payload " + err.Error())
	}

	rs := NewResource(rt)

	for name, val := range obj {
		if strings.ToLower(name) == "schemas" {
			continue
		}

		atType := rt.GetAtType(name)
		if atType == nil {
			log.Debugf("dropping unknown attribute %s", name)
			continue
		}

		err = addParsedAttr(rs, atType, val)
		if err != nil {
			return nil, err
		}
	}

	return rs, nil
}

func addParsedAttr(rs *Resource, atType *schema.AttrType, val interface{}) error {
	if atType.IsComplex() || (atType.MultiValued && atType.SubAttrMap != nil) {
		ca := NewComplexAt(atType)

		switch v := val.(type) {
		case map[string]interface{}:
			if err := ca.AddSubAts(v); err != nil {
				return err
			}

		case []interface{}:
			for _, item := range v {
				m, ok := item.(map[string]interface{})
				if !ok {
					// a bare value in a multi-valued attribute is an
					// untyped entry
					m = map[string]interface{}{"value": item}
				}
				if err := ca.AddSubAts(m); err != nil {
					return err
				}
			}

		default:
			return NewBadRequestError("Invalid value for the attribute " + atType.Name)
		}

		rs.AddAttribute(ca)
		return nil
	}

	if atType.MultiValued {
		arr, ok := val.([]interface{})
		if !ok {
			arr = []interface{}{val}
		}
		return rs.AddSA(atType.Name, arr...)
	}

	return rs.AddSA(atType.Name, val)
}
