// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package schema

// Default schema and resourcetype definitions embedded so that the
// gateway can start without a layout directory. File based definitions,
// when present, override these.

const User_Schema = `{
	"id": "urn:ietf:params:scim:schemas:core:2.0:User",
	"name": "User",
	"description": "User Account",
	"attributes": [
		{
			"name": "userName",
			"type": "string",
			"required": true,
			"caseExact": false,
			"uniqueness": "server"
		},
		{
			"name": "name",
			"type": "complex",
			"subAttributes": [
				{"name": "formatted", "type": "string"},
				{"name": "familyName", "type": "string"},
				{"name": "givenName", "type": "string"},
				{"name": "middleName", "type": "string"},
				{"name": "honorificPrefix", "type": "string"},
				{"name": "honorificSuffix", "type": "string"}
			]
		},
		{
			"name": "displayName",
			"type": "string"
		},
		{
			"name": "title",
			"type": "string"
		},
		{
			"name": "preferredLanguage",
			"type": "string"
		},
		{
			"name": "active",
			"type": "boolean"
		},
		{
			"name": "emails",
			"type": "string",
			"multiValued": true,
			"canonicalValues": ["work", "home", "other"]
		},
		{
			"name": "phoneNumbers",
			"type": "string",
			"multiValued": true,
			"canonicalValues": ["work", "home", "mobile", "fax", "pager", "other"]
		},
		{
			"name": "photos",
			"type": "binary",
			"multiValued": true,
			"canonicalValues": ["photo", "thumbnail"]
		},
		{
			"name": "addresses",
			"type": "complex",
			"multiValued": true,
			"canonicalValues": ["work", "home", "other"],
			"subAttributes": [
				{"name": "formatted", "type": "string"},
				{"name": "streetAddress", "type": "string"},
				{"name": "locality", "type": "string"},
				{"name": "region", "type": "string"},
				{"name": "postalCode", "type": "string"},
				{"name": "country", "type": "string"}
			]
		},
		{
			"name": "lastLogin",
			"type": "datetime",
			"mutability": "readOnly"
		}
	]
}`

const Group_Schema = `{
	"id": "urn:ietf:params:scim:schemas:core:2.0:Group",
	"name": "Group",
	"description": "Group",
	"attributes": [
		{
			"name": "displayName",
			"type": "string",
			"required": true
		},
		{
			"name": "members",
			"type": "complex",
			"multiValued": true,
			"subAttributes": [
				{"name": "value", "type": "string", "mutability": "immutable"},
				{"name": "display", "type": "string", "mutability": "immutable"}
			]
		}
	]
}`

const User_Resourcetype = `{
	"id": "User",
	"name": "User",
	"endpoint": "/Users",
	"description": "User Account",
	"schema": "urn:ietf:params:scim:schemas:core:2.0:User"
}`

const Group_Resourcetype = `{
	"id": "Group",
	"name": "Group",
	"endpoint": "/Groups",
	"description": "Group",
	"schema": "urn:ietf:params:scim:schemas:core:2.0:Group"
}`

// Builds a registry holding the default User and Group definitions
func DefaultRegistry() (*Registry, error) {
	reg := NewRegistry()

	for _, data := range []string{User_Schema, Group_Schema} {
		sc, err := NewSchema([]byte(data))
		if err != nil {
			return nil, err
		}
		reg.AddSchema(sc)
	}

	for _, data := range []string{User_Resourcetype, Group_Resourcetype} {
		rt, err := NewResourceType([]byte(data), reg.Schemas)
		if err != nil {
			return nil, err
		}
		reg.AddResourceType(rt)
	}

	return reg, nil
}
