// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package base

import (
	"encoding/json"
	"fmt"
)

var (
	BadRequest        = "400"
	UnAuthorized      = "401"
	Forbidden         = "403"
	NotFound          = "404"
	Conflict          = "409"
	InternalServerErr = "500"
	NotImplemented    = "501"
)

var (
	ST_INVALIDFILTER  = "invalidFilter"
	ST_INVALIDSYNTAX  = "invalidSyntax"
	ST_INVALIDVALUE   = "invalidValue"
	ST_UNSUPPORTED    = "unsupportedConversion"
	ST_UNIQUENESS     = "uniqueness"
	ST_MUTABILITY     = "mutability"
)

type ScimError struct {
	Schemas  []string `json:"schemas"`
	ScimType string   `json:"scimType"`
	Detail   string   `json:"detail"`
	Status   string   `json:"status"`
	code     int      // the Status value as an integer
}

func (se *ScimError) Serialize() []byte {
	data, err := json.Marshal(se)
	if err != nil {
		return []byte(err.Error())
	}

	return data
}

func (se *ScimError) Error() string {
	return string(se.Serialize())
}

func (se ScimError) Code() int {
	return se.code
}

func NewError() *ScimError {
	return &ScimError{Schemas: []string{"urn:ietf:params:scim:api:messages:2.0:Error"}}
}

func NewBadRequestError(detail string) *ScimError {
	err := NewError()
	err.Detail = detail
	err.code = 400
	err.Status = BadRequest
	return err
}

// The error returned when a filter fails to parse. The position of
// the offending token is part of the detail message.
func NewInvalidFilterError(pos int, detail string) *ScimError {
	err := NewError()
	err.Detail = fmt.Sprintf("%s (at position %d)", detail, pos)
	err.ScimType = ST_INVALIDFILTER
	err.code = 400
	err.Status = BadRequest
	return err
}

// The error returned when a value transformation is applied to an
// attribute whose data type it does not support, or to a malformed value.
func NewUnsupportedConversionError(detail string) *ScimError {
	err := NewError()
	err.Detail = detail
	err.ScimType = ST_UNSUPPORTED
	err.code = 400
	err.Status = BadRequest
	return err
}

func NewNotFoundError(detail string) *ScimError {
	err := NewError()
	err.Detail = detail
	err.code = 404
	err.Status = NotFound
	return err
}

func NewConflictError(detail string) *ScimError {
	err := NewError()
	err.Detail = detail
	err.code = 409
	err.Status = Conflict
	return err
}

func NewUnAuthorizedError(detail string) *ScimError {
	err := NewError()
	err.Detail = detail
	err.code = 401
	err.Status = UnAuthorized
	return err
}

// Indicates a bug, a state the mapping layer cannot reach through
// any parser produced input.
func NewInternalserverError(detail string) *ScimError {
	err := NewError()
	err.Detail = detail
	err.code = 500
	err.Status = InternalServerErr
	return err
}
