// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package provider

import (
	"fmt"
	goldap "github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	logger "github.com/juju/loggo"
	"io/ioutil"
	"path/filepath"
	"scimgate/base"
	"scimgate/conf"
	"scimgate/ldap"
	"scimgate/schema"
	"scimgate/silo"
	"strings"
)

var log logger.Logger

func init() {
	log = logger.GetLogger("scimgate.provider")
}

// Provider serves the SCIM operations of one gateway instance. The
// schema registry and the resource mappers are built once here and
// are immutable, a provider can be shared by any number of request
// serving goroutines.
type Provider struct {
	Name      string
	Registry  *schema.Registry
	RtPathMap map[string]*schema.ResourceType // a map of endpoint to ResourceType
	Mappers   map[string]*ldap.ResourceMapper // a map of lowercase resource name to mapper
	Config    *conf.ServerConf
	sl        *silo.Silo
}

func NewProvider(cf *conf.ServerConf) (*Provider, error) {
	pr := &Provider{Config: cf}

	reg, err := loadRegistry(cf.LayoutDir)
	if err != nil {
		return nil, err
	}
	pr.Registry = reg

	pr.RtPathMap = make(map[string]*schema.ResourceType)
	for _, rt := range reg.RsTypes {
		pr.RtPathMap[strings.ToLower(rt.Endpoint)] = rt
	}

	pr.Mappers, err = conf.LoadResourceMappers(reg, cf.MappingFile)
	if err != nil {
		return nil, err
	}

	pr.sl, err = silo.Open(cf)
	if err != nil {
		return nil, err
	}

	log.Infof("initialized the provider with %d resource mappings", len(pr.Mappers))
	return pr, nil
}

// Builds the registry from the layout directory, or from the built-in
// definitions when no directory is configured. The layout holds
// schema JSON files under schemas/ and resourcetype JSON files under
// resourcetypes/.
func loadRegistry(layoutDir string) (*schema.Registry, error) {
	if layoutDir == "" {
		return schema.DefaultRegistry()
	}

	reg := schema.NewRegistry()

	scDir := filepath.Join(layoutDir, "schemas")
	files, err := ioutil.ReadDir(scDir)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		sc, err := schema.LoadSchema(filepath.Join(scDir, f.Name()))
		if err != nil {
			return nil, err
		}
		reg.AddSchema(sc)
	}

	rtDir := filepath.Join(layoutDir, "resourcetypes")
	files, err = ioutil.ReadDir(rtDir)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		rt, err := schema.LoadResourceType(filepath.Join(rtDir, f.Name()), reg.Schemas)
		if err != nil {
			return nil, err
		}
		reg.AddResourceType(rt)
	}

	return reg, nil
}

func (pr *Provider) Close() {
	pr.sl.Close()
}

func (pr *Provider) GetResourceMapper(rtName string) (*ldap.ResourceMapper, error) {
	rm := pr.Mappers[strings.ToLower(rtName)]
	if rm == nil {
		return nil, base.NewNotFoundError("No resource mapping found for " + rtName)
	}

	return rm, nil
}

// the LDAP attribute types to request from the directory for the
// given projection, every mapped type when the projection is empty
func ldapAttrTypes(rm *ldap.ResourceMapper, projection []string) []string {
	var requested map[string]bool
	if len(projection) > 0 {
		requested = make(map[string]bool)
		for _, name := range projection {
			requested[strings.ToLower(strings.TrimSpace(name))] = true
		}

		// the id is needed to address the resource regardless of the
		// projection
		requested["id"] = true
	}

	types := make([]string, 0)
	for _, am := range rm.Mappers {
		if requested != nil && !requested[am.ScimAttrName()] {
			continue
		}

		types = append(types, am.LdapAttributeTypes()...)
	}

	return types
}

// the LDAP attribute types of the writable mappings, the set a
// replace is allowed to diff against. Readonly mappings such as the
// id bind operational attributes the gateway must never touch.
func writableLdapAttrTypes(rm *ldap.ResourceMapper) []string {
	types := make([]string, 0)
	for _, am := range rm.Mappers {
		if am.AtType.IsReadOnly() {
			continue
		}

		types = append(types, am.LdapAttributeTypes()...)
	}

	return types
}

// the attribute set written to the directory, readonly attributes
// such as the id are owned by the directory and are never written
func writableLdapAttributes(rm *ldap.ResourceMapper, rs *base.Resource) ([]goldap.Attribute, error) {
	attrs := make([]goldap.Attribute, 0, len(rm.Mappers)+1)
	attrs = append(attrs, goldap.Attribute{Type: "objectClass", Vals: rm.ObjectClasses})

	for _, am := range rm.Mappers {
		if am.AtType.IsReadOnly() {
			continue
		}

		err := am.ToLdapAttributes(rs, &attrs)
		if err != nil {
			return nil, err
		}
	}

	return attrs, nil
}

// the filter selecting the entry mapped from the resource with the
// given SCIM id
func (pr *Provider) idFilter(rm *ldap.ResourceMapper, rid string) (string, error) {
	lf, err := rm.ToLdapFilter(&base.FilterNode{Op: "EQ", Name: "id", Value: rid})
	if err != nil {
		return "", err
	}

	return lf.String(), nil
}

// CreateResource adds the entry mapped from the given resource and
// returns the stored resource read back from the directory
func (pr *Provider) CreateResource(rs *base.Resource, authzId string) (*base.Resource, error) {
	rm, err := pr.GetResourceMapper(rs.TypeName)
	if err != nil {
		return nil, err
	}

	dn, err := rm.ConstructDN(rs)
	if err != nil {
		return nil, err
	}

	attrs, err := writableLdapAttributes(rm, rs)
	if err != nil {
		return nil, err
	}

	// an external id for directories that do not expose an
	// operational UUID through the id mapping
	idMapper := rm.GetMapper("id")
	if idMapper != nil && !strings.EqualFold(idMapper.LdapAttributeTypes()[0], "entryUUID") {
		attrs = append(attrs, goldap.Attribute{Type: idMapper.LdapAttributeTypes()[0], Vals: []string{uuid.New().String()}})
	}

	err = pr.sl.Insert(dn, attrs, authzId)
	if err != nil {
		if goldap.IsErrorWithCode(err, goldap.LDAPResultEntryAlreadyExists) {
			return nil, base.NewConflictError(fmt.Sprintf("An entry already exists at %s", dn))
		}
		return nil, err
	}

	log.Debugf("created the entry %s", dn)

	entry, err := pr.sl.Get(dn, ldapAttrTypes(rm, nil), authzId)
	if err != nil || entry == nil {
		// the add succeeded, return what was sent when the read back
		// is not possible
		return rs, nil
	}

	return rm.ToResource(entry, nil)
}

// GetResource reads the resource with the given id
func (pr *Provider) GetResource(rtName string, rid string, projection []string, authzId string) (*base.Resource, error) {
	rm, err := pr.GetResourceMapper(rtName)
	if err != nil {
		return nil, err
	}

	filter, err := pr.idFilter(rm, rid)
	if err != nil {
		return nil, err
	}

	entry, err := pr.sl.FindOne(rm.SearchBase, filter, ldapAttrTypes(rm, projection), authzId)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		return nil, base.NewNotFoundError(fmt.Sprintf("Resource %s not found", rid))
	}

	return rm.ToResource(entry, projection)
}

// Search compiles the given filter expression and streams the
// matching resources over the pipe. A nil filter node selects all
// entries under the search base.
func (pr *Provider) Search(rtName string, fn *base.FilterNode, projection []string, authzId string, outPipe chan *base.Resource) error {
	rm, err := pr.GetResourceMapper(rtName)
	if err != nil {
		return err
	}

	filter := "(objectClass=*)"
	if fn != nil {
		lf, err := rm.ToLdapFilter(fn)
		if err != nil {
			return err
		}
		filter = lf.String()
	}

	log.Debugf("searching %s with the filter %s", rm.SearchBase, filter)

	entryPipe := make(chan *goldap.Entry)
	err = pr.sl.Search(rm.SearchBase, filter, ldapAttrTypes(rm, projection), pr.Config.MaxResults, authzId, entryPipe)
	if err != nil {
		return err
	}

	go func() {
		defer close(outPipe)
		for entry := range entryPipe {
			rs, err := rm.ToResource(entry, projection)
			if err != nil {
				log.Warningf("skipping the entry %s [%s]", entry.DN, err)
				continue
			}

			outPipe <- rs
		}
	}()

	return nil
}

// ReplaceResource overwrites the mapped attributes of the stored
// resource with those of the given resource
func (pr *Provider) ReplaceResource(rtName string, rid string, rs *base.Resource, authzId string) (*base.Resource, error) {
	rm, err := pr.GetResourceMapper(rtName)
	if err != nil {
		return nil, err
	}

	filter, err := pr.idFilter(rm, rid)
	if err != nil {
		return nil, err
	}

	existing, err := pr.sl.FindOne(rm.SearchBase, filter, ldapAttrTypes(rm, nil), authzId)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return nil, base.NewNotFoundError(fmt.Sprintf("Resource %s not found", rid))
	}

	attrs, err := writableLdapAttributes(rm, rs)
	if err != nil {
		return nil, err
	}

	err = pr.sl.Replace(existing.DN, attrs, existing, writableLdapAttrTypes(rm), authzId)
	if err != nil {
		return nil, err
	}

	entry, err := pr.sl.Get(existing.DN, ldapAttrTypes(rm, nil), authzId)
	if err != nil || entry == nil {
		return rs, nil
	}

	return rm.ToResource(entry, nil)
}

// DeleteResource removes the entry of the resource with the given id
func (pr *Provider) DeleteResource(rtName string, rid string, authzId string) error {
	rm, err := pr.GetResourceMapper(rtName)
	if err != nil {
		return err
	}

	filter, err := pr.idFilter(rm, rid)
	if err != nil {
		return err
	}

	entry, err := pr.sl.FindOne(rm.SearchBase, filter, []string{"1.1"}, authzId)
	if err != nil {
		return err
	}

	if entry == nil {
		return base.NewNotFoundError(fmt.Sprintf("Resource %s not found", rid))
	}

	return pr.sl.Remove(entry.DN, authzId)
}

// LdapSortKey translates a SCIM sortBy key through the resource's
// mapping, empty when the key has no directory side order
func (pr *Provider) LdapSortKey(rtName string, scimPath string) string {
	rm := pr.Mappers[strings.ToLower(rtName)]
	if rm == nil {
		return ""
	}

	return rm.ToLdapSortKey(scimPath)
}

// Authenticate resolves the user entry by its userName and checks the
// password against the directory. Returns the DN of the user on
// success, it becomes the proxied authorization identity of the
// session.
func (pr *Provider) Authenticate(username string, password string) (string, error) {
	rm, err := pr.GetResourceMapper("User")
	if err != nil {
		return "", err
	}

	lf, err := rm.ToLdapFilter(&base.FilterNode{Op: "EQ", Name: "username", Value: username})
	if err != nil {
		return "", err
	}

	entry, err := pr.sl.FindOne(rm.SearchBase, lf.String(), []string{"1.1"}, "")
	if err != nil || entry == nil {
		return "", base.NewUnAuthorizedError("Invalid username or password")
	}

	err = pr.sl.Authenticate(entry.DN, password)
	if err != nil {
		return "", base.NewUnAuthorizedError("Invalid username or password")
	}

	return entry.DN, nil
}
