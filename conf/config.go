// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.

package conf

import (
	"encoding/json"
	"io/ioutil"
)

type ServerConf struct {
	Https           bool   `json:"enable-https"`
	HttpPort        int    `json:"http-port"`
	Ipaddress       string `json:"ipaddress"`
	CertFile        string `json:"certificate"`
	PrivKeyFile     string `json:"privatekey"`
	LdapUrl         string `json:"ldap-url"`
	BindDn          string `json:"bind-dn"`
	BindPassword    string `json:"bind-password"`
	ProxiedAuth     bool   `json:"proxied-auth"` // pass the authenticated user on to the directory
	MaxResults      int    `json:"max-results"`
	MappingFile     string `json:"mapping-file"` // path of the XML mapping document, empty selects the built-in document
	LayoutDir       string `json:"layout-dir"`   // directory holding schema and resourcetype JSON files, empty selects the built-in definitions
}

func DefaultConfig() *ServerConf {
	cf := &ServerConf{}
	cf.HttpPort = 7090
	cf.Ipaddress = "0.0.0.0"
	cf.LdapUrl = "ldap://localhost:389"
	cf.MaxResults = 200

	return cf
}

func ParseConfig(file string) (*ServerConf, error) {
	data, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}

	cf := DefaultConfig()

	err = json.Unmarshal(data, cf)
	if err != nil {
		return nil, err
	}

	return cf, nil
}
