// Package web3 defines the chain client used by the workflow: contract
// deployment (CREATE or CREATE2), signed contract invocations under a fee
// ceiling, read-only calls and bounded confirmation waits, together with the
// YAML chain definitions that name the available networks.
package web3
