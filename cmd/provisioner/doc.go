// Command iapgw-provisioner creates, inspects and tears down IAP-only
// gateway VM deployments described by a TOML manifest.
//
// Subcommands:
//
//	provision   create or repair every resource of the deployment
//	teardown    delete the compute resources (optionally purge secrets)
//	status      print instance state and readiness as JSON
//	secret set  write a real secret value
//	secret list list deployment secrets and their state
package main
