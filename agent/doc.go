// Package agent implements the boot agent that runs on the gateway VM.
//
// On every boot the agent waits for the network, installs the pinned
// gateway artifact, materializes deployment secrets into a tmpfs env file,
// applies and restarts the gateway's systemd unit, and publishes a
// readiness guest attribute the provisioner polls from outside.
package agent
