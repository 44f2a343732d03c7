// Package interfaces defines the shared types and contracts used across the
// iapgw module: validated secret names, environment-key mangling, the
// SecretStore abstraction implemented by the secrets package, and the
// sentinel errors returned by store implementations.
//
// Keeping these in a leaf package lets the provisioner, the boot agent, and
// the secret-store backends depend on the same vocabulary without importing
// each other.
package interfaces
