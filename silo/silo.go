// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package silo

import (
	"fmt"
	"github.com/go-ldap/ldap/v3"
	logger "github.com/juju/loggo"
	"scimgate/conf"
	"strings"
	"sync"
)

var log logger.Logger

func init() {
	log = logger.GetLogger("scimgate.silo")
}

// Silo is the gateway's handle to the backing directory. All entry
// reads and writes go through it. The mapping layer never touches a
// connection, it only hands a compiled filter or an attribute list to
// the silo.
type Silo struct {
	cf   *conf.ServerConf
	conn *ldap.Conn
	mu   sync.Mutex
}

// Opens a connection to the directory configured in the given server
// configuration and binds using the configured credentials
func Open(cf *conf.ServerConf) (*Silo, error) {
	sl := &Silo{cf: cf}

	err := sl.connect()
	if err != nil {
		return nil, err
	}

	log.Infof("opened the directory connection to %s", cf.LdapUrl)
	return sl, nil
}

func (sl *Silo) connect() error {
	conn, err := ldap.DialURL(sl.cf.LdapUrl)
	if err != nil {
		return fmt.Errorf("failed to connect to the directory %s, %s", sl.cf.LdapUrl, err)
	}

	if sl.cf.BindDn != "" {
		err = conn.Bind(sl.cf.BindDn, sl.cf.BindPassword)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to bind as %s, %s", sl.cf.BindDn, err)
		}
	}

	sl.conn = conn
	return nil
}

func (sl *Silo) Close() {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.conn != nil {
		sl.conn.Close()
		sl.conn = nil
	}
}

// retries once after re-connecting when the directory dropped the
// connection
func (sl *Silo) do(op func(conn *ldap.Conn) error) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.conn == nil {
		if err := sl.connect(); err != nil {
			return err
		}
	}

	err := op(sl.conn)
	if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
		log.Warningf("directory connection was lost, reconnecting")
		sl.conn.Close()
		if err = sl.connect(); err != nil {
			return err
		}

		err = op(sl.conn)
	}

	return err
}

func (sl *Silo) controls(authzId string) []ldap.Control {
	if !sl.cf.ProxiedAuth || authzId == "" {
		return nil
	}

	return []ldap.Control{NewProxiedAuthControl(authzId)}
}

// Checks the given credentials against the directory without
// disturbing the gateway's own connection
func (sl *Silo) Authenticate(dn string, password string) error {
	conn, err := ldap.DialURL(sl.cf.LdapUrl)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.Bind(dn, password)
}

// Adds an entry with the given attribute set
func (sl *Silo) Insert(dn string, attrs []ldap.Attribute, authzId string) error {
	addReq := &ldap.AddRequest{DN: dn, Attributes: attrs, Controls: sl.controls(authzId)}

	return sl.do(func(conn *ldap.Conn) error {
		return conn.Add(addReq)
	})
}

// Reads one entry at the given DN, nil when there is no such entry
func (sl *Silo) Get(dn string, reqAttrs []string, authzId string) (*ldap.Entry, error) {
	var entry *ldap.Entry

	err := sl.do(func(conn *ldap.Conn) error {
		res, err := conn.Search(&ldap.SearchRequest{
			BaseDN:     dn,
			Scope:      ldap.ScopeBaseObject,
			Filter:     "(objectClass=*)",
			Attributes: reqAttrs,
			Controls:   sl.controls(authzId),
		})
		if err != nil {
			return err
		}

		if len(res.Entries) > 0 {
			entry = res.Entries[0]
		}
		return nil
	})

	if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
		return nil, nil
	}

	return entry, err
}

// Searches the subtree under the base and streams the matching
// entries over the pipe. The pipe is closed when the result is
// drained. A size limit overrun is not reported, the partial result
// is streamed. Any other directory error closes the pipe and is
// returned before any entry is sent.
func (sl *Silo) Search(baseDN string, filter string, reqAttrs []string, maxResults int, authzId string, outPipe chan *ldap.Entry) error {
	sizeLimit := maxResults
	if sizeLimit <= 0 {
		sizeLimit = sl.cf.MaxResults
	}

	var res *ldap.SearchResult

	err := sl.do(func(conn *ldap.Conn) error {
		var err error
		res, err = conn.Search(&ldap.SearchRequest{
			BaseDN:     baseDN,
			Scope:      ldap.ScopeWholeSubtree,
			Filter:     filter,
			SizeLimit:  sizeLimit,
			Attributes: reqAttrs,
			Controls:   sl.controls(authzId),
		})
		return err
	})

	// a size limit overrun still carries the partial result
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
		close(outPipe)
		return err
	}

	if res == nil {
		close(outPipe)
		return nil
	}

	go func() {
		defer close(outPipe)
		for _, entry := range res.Entries {
			outPipe <- entry
		}
	}()

	return nil
}

// Finds the single entry matching the filter under the base, nil when
// nothing matches
func (sl *Silo) FindOne(baseDN string, filter string, reqAttrs []string, authzId string) (*ldap.Entry, error) {
	var entry *ldap.Entry

	err := sl.do(func(conn *ldap.Conn) error {
		res, err := conn.Search(&ldap.SearchRequest{
			BaseDN:     baseDN,
			Scope:      ldap.ScopeWholeSubtree,
			Filter:     filter,
			SizeLimit:  2,
			Attributes: reqAttrs,
			Controls:   sl.controls(authzId),
		})
		if err != nil {
			return err
		}

		if len(res.Entries) > 1 {
			return fmt.Errorf("filter %s matched more than one entry under %s", filter, baseDN)
		}

		if len(res.Entries) == 1 {
			entry = res.Entries[0]
		}
		return nil
	})

	return entry, err
}

// Replaces the writable mapped attributes of the entry with the given
// set. The difference is the straightforward attribute diff, values
// the new set no longer carries are removed, changed ones are
// replaced. Only attribute types named in writable take part in the
// diff, anything else on the entry belongs to the directory, readonly
// mappings or other entries and is left alone.
func (sl *Silo) Replace(dn string, attrs []ldap.Attribute, existing *ldap.Entry, writable []string, authzId string) error {
	modReq := replaceRequest(dn, attrs, existing, writable, sl.controls(authzId))
	if modReq == nil {
		return nil
	}

	return sl.do(func(conn *ldap.Conn) error {
		return conn.Modify(modReq)
	})
}

// computes the modify request of a replace, nil when the entry
// already matches the new attribute set
func replaceRequest(dn string, attrs []ldap.Attribute, existing *ldap.Entry, writable []string, controls []ldap.Control) *ldap.ModifyRequest {
	modReq := ldap.NewModifyRequest(dn, controls)

	allowed := make(map[string]bool, len(writable))
	for _, at := range writable {
		allowed[strings.ToLower(at)] = true
	}

	newAttrs := make(map[string]bool)

	for _, at := range attrs {
		key := strings.ToLower(at.Type)
		if key == "objectclass" || !allowed[key] {
			continue
		}

		newAttrs[key] = true

		if !sameValues(existing.GetEqualFoldAttributeValues(at.Type), at.Vals) {
			modReq.Replace(at.Type, at.Vals)
		}
	}

	// drop the previously mapped attributes the new set no longer has
	for _, at := range existing.Attributes {
		key := strings.ToLower(at.Name)
		if key == "objectclass" || !allowed[key] {
			continue
		}

		if !newAttrs[key] {
			modReq.Replace(at.Name, []string{})
		}
	}

	if len(modReq.Changes) == 0 {
		return nil
	}

	return modReq
}

func sameValues(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// Removes the entry at the given DN
func (sl *Silo) Remove(dn string, authzId string) error {
	return sl.do(func(conn *ldap.Conn) error {
		return conn.Del(ldap.NewDelRequest(dn, sl.controls(authzId)))
	})
}
