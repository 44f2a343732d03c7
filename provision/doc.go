// Package provision orchestrates the deployment pipeline: preflight
// permission checks, API enablement, secret seeding, firewall and NAT
// setup, instance creation and IAM bindings, ending with a wait for the
// boot agent's readiness signal. All steps are idempotent so the pipeline
// can be rerun after partial failures.
package provision
