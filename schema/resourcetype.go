// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package schema

import (
	"encoding/json"
	"io/ioutil"
	"path"
	"strings"
)

type SchemaExtension struct {
	Schema   string
	Required bool
}

type ResourceType struct {
	Id               string
	Name             string
	Endpoint         string
	Description      string
	Schema           string
	SchemaExtensions []*SchemaExtension
	Meta             struct {
		Location     string
		ResourceType string
	}

	schemas map[string]*Schema // map containing the main and extension schemas
	Text    string             // the JSON representation of this resource type
}

func LoadResourceType(name string, sm map[string]*Schema) (*ResourceType, error) {
	data, err := ioutil.ReadFile(name)
	if err != nil {
		return nil, err
	}

	log.Debugf("Loading resourcetype from file %s", name)
	return NewResourceType(data, sm)
}

func NewResourceType(data []byte, sm map[string]*Schema) (*ResourceType, error) {
	rt := &ResourceType{}
	err := json.Unmarshal(data, rt)

	if err != nil {
		return nil, err
	}

	ve := &ValidationErrors{}

	rt.Name = strings.TrimSpace(rt.Name)
	if len(rt.Name) == 0 {
		ve.add("Name attribute of the resourcetype cannot be empty")
	}

	rt.Endpoint = path.Clean(strings.TrimSpace(rt.Endpoint))
	if len(rt.Endpoint) == 0 {
		ve.add("Endpoint attribute of the resourcetype cannot be empty")
	}

	rt.schemas = make(map[string]*Schema)

	rt.Schema = strings.TrimSpace(rt.Schema)
	if len(rt.Schema) == 0 {
		ve.add("Schema attribute of the resourcetype cannot be empty")
	} else if sm[rt.Schema] == nil {
		ve.add("No Schema found associated with the URN " + rt.Schema)
	} else {
		rt.schemas[rt.Schema] = sm[rt.Schema]
		log.Debugf("setting main schema %s on resourcetype %s", rt.Schema, rt.Name)
	}

	for _, ext := range rt.SchemaExtensions {
		ext.Schema = strings.TrimSpace(ext.Schema)
		if len(ext.Schema) == 0 {
			ve.add("Schema attribute of the resourcetype's extension cannot be empty")
		} else if sm[ext.Schema] == nil {
			ve.add("No Schema found associated with the extension schema URN " + ext.Schema)
		} else {
			rt.schemas[ext.Schema] = sm[ext.Schema]
		}
	}

	if ve.Count > 0 {
		return nil, ve
	}

	addCommonAttrs(rt.schemas[rt.Schema])

	rt.Text = string(data)
	return rt, nil
}

func addCommonAttrs(mainSchema *Schema) {
	if mainSchema.AttrMap["id"] != nil {
		return
	}

	// id
	idAttr := newAttrType()
	idAttr.Name = "id"
	idAttr.NormName = idAttr.Name
	idAttr.Returned = "always"
	idAttr.CaseExact = true
	idAttr.Mutability = "readOnly"
	idAttr.SchemaId = mainSchema.Id
	mainSchema.Attributes = append(mainSchema.Attributes, idAttr)
	mainSchema.AttrMap[idAttr.Name] = idAttr

	// externalId
	externalIdAttr := newAttrType()
	externalIdAttr.Name = "externalId"
	externalIdAttr.NormName = strings.ToLower(externalIdAttr.Name)
	externalIdAttr.CaseExact = true
	externalIdAttr.SchemaId = mainSchema.Id
	mainSchema.Attributes = append(mainSchema.Attributes, externalIdAttr)
	mainSchema.AttrMap[externalIdAttr.NormName] = externalIdAttr
}

// Returns the main schema of the given resourcetype
func (rt *ResourceType) GetMainSchema() *Schema {
	return rt.GetSchema(rt.Schema)
}

// Returns the schema identified by the URN associated with the given resourcetype
func (rt *ResourceType) GetSchema(urnId string) *Schema {
	return rt.schemas[urnId]
}

// Resolves an attribute path of the form [schemaURI:]name[.sub] against
// the schemas associated with this resourcetype. The URI part, when
// present, is matched case sensitively, the name part is not.
func (rt *ResourceType) GetAtType(atPath string) *AttrType {
	colonPos := strings.LastIndex(atPath, ":")

	if colonPos > 0 {
		uri := atPath[0:colonPos]
		sc := rt.schemas[uri]
		if sc == nil {
			return nil
		}

		return sc.GetAtType(atPath[colonPos+1:])
	}

	// when no schema ID is prefixed search all schemas associated with
	// the ResourceType, helpful in shorter attribute paths when the
	// attribute names are unique
	for _, sc := range rt.schemas {
		at := sc.GetAtType(atPath)
		if at != nil {
			return at
		}
	}

	return nil
}
