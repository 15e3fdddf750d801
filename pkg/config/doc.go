// Package config loads hook configuration from YAML, TOML or JSON files.
//
// The format is picked by file extension. Keys absent from the file keep
// the values of Default. Children may be listed as bare type names or as
// full spawn specs:
//
//	name: server
//	port: 5000
//	children:
//	  - echo
//	  - name: worker-1
//	    type: worker
//	transports:
//	  - type: journal
//	    options:
//	      path: ./events.db
package config
