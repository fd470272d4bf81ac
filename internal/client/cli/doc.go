// Package cli is the vaultctl command-line harness.
//
// Every invocation opens the local vault database, asks for the master
// passphrase (or reads it from VAULTKEEPER_PASSPHRASE) and runs one cobra
// command against services.VaultService. Tables are rendered with go-pretty.
//
//	vaultctl init
//	vaultctl item add --kind password --title Mail
//	vaultctl container import <id>
//	vaultctl remote sync --all
//	vaultctl audit
package cli
