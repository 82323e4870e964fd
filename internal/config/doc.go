// Package config loads the tokenflow configuration: a JSON file for the run
// parameters and storage backends, a YAML file describing the chains, and
// environment overrides (optionally read from a .env file) for the RPC
// endpoint and the sponsor key.
package config
