// Package gcp wraps the Google Cloud REST APIs used by the iapgw
// provisioner: Compute Engine (instances, firewalls, routers and NAT,
// operations, guest attributes), Service Usage (API enablement) and Resource
// Manager (IAM policy, permission preflight).
//
// All mutating methods follow ensure semantics: they check the current state
// first and report whether a change was applied, so the provisioning
// pipeline can be rerun safely after a partial failure.
//
// A Connection built with an Endpoint override talks to that endpoint
// without authentication, which is how the package tests drive the real
// generated clients against a local fake.
package gcp
