// Package config loads fastws server configuration from YAML.
//
// Values of the form ${VAR} are expanded from the environment before
// parsing, so secrets such as the ngrok auth token can stay out of the file:
//
//	server:
//	  port: 3000
//	  verbose: true
//	  websocket:
//	    path: /ws
//	    compression: shared
//	    idle_timeout: 120s
//	static:
//	  root: ./public
//	  cache: 50
//	ngrok:
//	  enabled: true
//	  authtoken: ${NGROK_AUTHTOKEN}
//
// Use LoadAndValidate for files, or Default for a configuration without one.
package config
