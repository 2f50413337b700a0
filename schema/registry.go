// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package schema

import (
	"fmt"
	"strings"
)

// Registry holds the schemas and resourcetypes of one domain.
// It is built once during startup and never modified afterwards so
// it can be read from any goroutine without locking.
type Registry struct {
	Schemas map[string]*Schema       // a map of Schema ID to Schema, IDs are case sensitive
	RsTypes map[string]*ResourceType // a map of lowercase Name to ResourceType
}

func NewRegistry() *Registry {
	return &Registry{Schemas: make(map[string]*Schema), RsTypes: make(map[string]*ResourceType)}
}

func (reg *Registry) AddSchema(sc *Schema) {
	reg.Schemas[sc.Id] = sc
}

func (reg *Registry) AddResourceType(rt *ResourceType) {
	reg.RsTypes[strings.ToLower(rt.Name)] = rt
}

// Returns the resourcetype of the given name, names are case insensitive
func (reg *Registry) LookupResource(name string) (*ResourceType, error) {
	rt := reg.RsTypes[strings.ToLower(name)]
	if rt == nil {
		return nil, fmt.Errorf("No resourcetype found with the name %s", name)
	}

	return rt, nil
}

// Returns the attribute type of the named attribute under the schema
// identified by the given URI. The URI is matched case sensitively,
// the attribute name is not.
func (reg *Registry) LookupAttribute(schemaURI string, name string) (*AttrType, error) {
	sc := reg.Schemas[schemaURI]
	if sc == nil {
		return nil, fmt.Errorf("No schema found with the URI %s", schemaURI)
	}

	at := sc.GetAtType(name)
	if at == nil {
		return nil, fmt.Errorf("No attribute %s found under the schema %s", name, schemaURI)
	}

	return at, nil
}

// Returns the sub-attribute type of the given name under the given
// complex parent attribute type
func (reg *Registry) LookupSubAttribute(parent *AttrType, name string) (*AttrType, error) {
	if parent.SubAttrMap == nil {
		return nil, fmt.Errorf("Attribute %s has no sub-attributes", parent.Name)
	}

	at := parent.SubAttrMap[strings.ToLower(name)]
	if at == nil {
		return nil, fmt.Errorf("No sub-attribute %s found under the attribute %s", name, parent.Name)
	}

	return at, nil
}
