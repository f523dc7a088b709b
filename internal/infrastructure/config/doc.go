// Package config provides configuration loading and validation for vlxmqttha.
//
// Configuration is loaded from a YAML file whose path is given as the single
// positional command-line argument. Sensitive values (broker credentials, the
// KLF200 password) can be supplied via VLXMQTTHA_* environment variables so
// they never have to live in the file.
//
// A minimal configuration:
//
//	mqtt:
//	  broker:
//	    host: broker.local
//	velux:
//	  host: 192.168.1.20
//	  password: "velux-wifi-key"
//
// All other values have working defaults; see defaultConfig.
package config
