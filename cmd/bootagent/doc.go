// Command iapgw-agent runs on the gateway VM, invoked by the startup
// script on every boot.
//
// Subcommands:
//
//	ensure   install the pinned gateway, materialize secrets, apply and
//	         restart the systemd unit, publish readiness, serve diagnostics
//	refresh  re-materialize secrets and restart the gateway if they changed
package main
