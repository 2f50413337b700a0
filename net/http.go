// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package net

import (
	"encoding/json"
	"github.com/gorilla/mux"
	logger "github.com/juju/loggo"
	"io/ioutil"
	"net/http"
	"scimgate/base"
	"scimgate/conf"
	"scimgate/provider"
	"scimgate/schema"
	"strconv"
	"strings"
)

var log logger.Logger

func init() {
	log = logger.GetLogger("scimgate.net")
}

var API_BASE = "/v2" // NO slash at the end

var SCIM_JSON_TYPE = "application/scim+json; charset=UTF-8"

// Server is the REST frontend of the gateway. It owns the provider
// and the listener, nothing else, all SCIM semantics live below it.
type Server struct {
	pr     *provider.Provider
	srv    *http.Server
	config *conf.ServerConf
}

func NewServer(cf *conf.ServerConf) (*Server, error) {
	pr, err := provider.NewProvider(cf)
	if err != nil {
		return nil, err
	}

	sg := &Server{pr: pr, config: cf}

	router := mux.NewRouter()
	scimRouter := router.PathPrefix(API_BASE).Subrouter()
	scimRouter.HandleFunc("/{endpoint}", sg.searchResource).Methods("GET")
	scimRouter.HandleFunc("/{endpoint}", sg.createResource).Methods("POST")
	scimRouter.HandleFunc("/{endpoint}/{id}", sg.getResource).Methods("GET")
	scimRouter.HandleFunc("/{endpoint}/{id}", sg.replaceResource).Methods("PUT")
	scimRouter.HandleFunc("/{endpoint}/{id}", sg.deleteResource).Methods("DELETE")

	hostAddr := cf.Ipaddress + ":" + strconv.Itoa(cf.HttpPort)
	sg.srv = &http.Server{Addr: hostAddr, Handler: router}

	return sg, nil
}

func (sg *Server) Start() {
	log.Infof("Starting the server at %s", sg.srv.Addr)

	var err error
	if sg.config.Https {
		err = sg.srv.ListenAndServeTLS(sg.config.CertFile, sg.config.PrivKeyFile)
	} else {
		err = sg.srv.ListenAndServe()
	}

	if err != nil && err != http.ErrServerClosed {
		log.Criticalf("Failed to serve %s", err)
	}
}

func (sg *Server) Stop() {
	sg.srv.Close()
	sg.pr.Close()
}

// resolves the resourcetype addressed by the request path
func (sg *Server) resourceType(r *http.Request) (*schema.ResourceType, error) {
	endpoint := "/" + strings.ToLower(mux.Vars(r)["endpoint"])
	rt := sg.pr.RtPathMap[endpoint]
	if rt == nil {
		return nil, base.NewNotFoundError("Unknown endpoint " + endpoint)
	}

	return rt, nil
}

// The gateway holds no session state. Basic credentials, when
// present, are checked against the directory on every request and
// the resolved DN becomes the proxied authorization identity.
func (sg *Server) authenticate(r *http.Request) (authzId string, err error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		if sg.config.ProxiedAuth {
			return "", base.NewUnAuthorizedError("Authentication required")
		}

		return "", nil
	}

	dn, err := sg.pr.Authenticate(username, password)
	if err != nil {
		return "", err
	}

	return "dn:" + dn, nil
}

func writeError(w http.ResponseWriter, err error) {
	se, ok := err.(*base.ScimError)
	if !ok {
		se = base.NewInternalserverError(err.Error())
	}

	log.Debugf("sending error response [%s]", se.Detail)
	w.Header().Set("Content-Type", SCIM_JSON_TYPE)
	w.WriteHeader(se.Code())
	w.Write(se.Serialize())
}

func writeResource(w http.ResponseWriter, rs *base.Resource, status int) {
	w.Header().Set("Content-Type", SCIM_JSON_TYPE)
	w.WriteHeader(status)
	w.Write(rs.Serialize())
}

func projectionOf(r *http.Request) []string {
	attributes := strings.TrimSpace(r.URL.Query().Get("attributes"))
	if attributes == "" {
		return nil
	}

	return strings.Split(attributes, ",")
}

func (sg *Server) searchResource(w http.ResponseWriter, r *http.Request) {
	authzId, err := sg.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rt, err := sg.resourceType(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var fn *base.FilterNode
	filter := strings.TrimSpace(r.URL.Query().Get("filter"))
	if filter != "" {
		fn, err = base.ParseFilter(filter)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	outPipe := make(chan *base.Resource)

	err = sg.pr.Search(rt.Name, fn, projectionOf(r), authzId, outPipe)
	if err != nil {
		writeError(w, err)
		return
	}

	resources := make([]map[string]interface{}, 0)
	for rs := range outPipe {
		resources = append(resources, rs.ToJsonObject())
	}

	lr := map[string]interface{}{
		"schemas":      []string{"urn:ietf:params:scim:api:messages:2.0:ListResponse"},
		"totalResults": len(resources),
		"Resources":    resources,
	}

	data, err := json.Marshal(lr)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", SCIM_JSON_TYPE)
	w.Write(data)
}

func (sg *Server) createResource(w http.ResponseWriter, r *http.Request) {
	authzId, err := sg.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rt, err := sg.resourceType(r)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := ioutil.ReadAll(r.Body)
	if err != nil {
		writeError(w, base.NewBadRequestError("Failed to read the request body"))
		return
	}

	rs, err := base.ParseResource(rt, data)
	if err != nil {
		writeError(w, err)
		return
	}

	created, err := sg.pr.CreateResource(rs, authzId)
	if err != nil {
		writeError(w, err)
		return
	}

	writeResource(w, created, http.StatusCreated)
}

func (sg *Server) getResource(w http.ResponseWriter, r *http.Request) {
	authzId, err := sg.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rt, err := sg.resourceType(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rid := mux.Vars(r)["id"]

	rs, err := sg.pr.GetResource(rt.Name, rid, projectionOf(r), authzId)
	if err != nil {
		writeError(w, err)
		return
	}

	writeResource(w, rs, http.StatusOK)
}

func (sg *Server) replaceResource(w http.ResponseWriter, r *http.Request) {
	authzId, err := sg.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rt, err := sg.resourceType(r)
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := ioutil.ReadAll(r.Body)
	if err != nil {
		writeError(w, base.NewBadRequestError("Failed to read the request body"))
		return
	}

	rs, err := base.ParseResource(rt, data)
	if err != nil {
		writeError(w, err)
		return
	}

	rid := mux.Vars(r)["id"]

	replaced, err := sg.pr.ReplaceResource(rt.Name, rid, rs, authzId)
	if err != nil {
		writeError(w, err)
		return
	}

	writeResource(w, replaced, http.StatusOK)
}

func (sg *Server) deleteResource(w http.ResponseWriter, r *http.Request) {
	authzId, err := sg.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rt, err := sg.resourceType(r)
	if err != nil {
		writeError(w, err)
		return
	}

	rid := mux.Vars(r)["id"]

	err = sg.pr.DeleteResource(rt.Name, rid, authzId)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
