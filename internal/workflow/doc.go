// Package workflow drives one token demo run as an explicit state machine.
//
// A run generates a key pair, deploys an account contract owned by it, waits
// for the operator to fund the key, deploys an ERC20 token, mints to the
// account, transfers part of the balance away and reads the balance after
// each change. Every mutating call is confirmed before the next one is sent.
// Cancelling the context stops the run before the next state and reports
// which contracts were already deployed.
package workflow
