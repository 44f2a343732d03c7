// Package secrets implements the deployment's secret storage and its
// boot-time materialization into an environment file.
//
// Stores are created from URIs by the Factory:
//
//   - gcpsm://my-project?label=prod-gw  - Google Secret Manager, scoped by
//     the iapgw-deployment label
//   - vault://vault.example.com:8200/secret/iapgw/prod - HashiCorp Vault KV v2
//   - file:///var/lib/iapgw/secrets - local directory for dev and tests
//
// Materialize turns a store's contents into KEY=VALUE entries: secret names
// are mangled to environment keys, placeholder sentinel versions are
// dropped, and individual fetch failures are logged and skipped. WriteEnvFile
// then persists the rendered file atomically onto a tmpfs mount so secret
// material never touches disk.
package secrets
