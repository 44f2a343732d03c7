package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/perimeterlabs/iapgw/cmd/flags"
	"github.com/perimeterlabs/iapgw/gcp"
	"github.com/perimeterlabs/iapgw/interfaces"
	"github.com/perimeterlabs/iapgw/manifest"
	"github.com/perimeterlabs/iapgw/provision"
	"github.com/perimeterlabs/iapgw/secrets"
)

var flagManifest = &cli.StringFlag{
	Name:     "manifest",
	Required: true,
	Usage:    "path to the TOML deployment manifest",
	EnvVars:  []string{"IAPGW_MANIFEST"},
}
var flagProject = &cli.StringFlag{
	Name:    "project",
	Usage:   "override the manifest's project",
	EnvVars: []string{"IAPGW_PROJECT"},
}
var flagZone = &cli.StringFlag{
	Name:    "zone",
	Usage:   "override the manifest's zone",
	EnvVars: []string{"IAPGW_ZONE"},
}
var flagName = &cli.StringFlag{
	Name:  "name",
	Usage: "override the manifest's instance name",
}
var flagMachineType = &cli.StringFlag{
	Name:  "machine-type",
	Usage: "override the manifest's machine type",
}
var flagSSHKey = &cli.StringFlag{
	Name:  "ssh-key",
	Usage: "path to the tunnel SSH private key, generated if missing; empty disables key injection",
}
var flagSSHUser = &cli.StringFlag{
	Name:  "ssh-user",
	Value: "iapgw",
	Usage: "login injected with the SSH key",
}
var flagHealthTimeout = &cli.DurationFlag{
	Name:  "health-timeout",
	Value: 10 * time.Minute,
	Usage: "how long to wait for the gateway to report ready; 0 disables the wait",
}
var flagPurgeSecrets = &cli.BoolFlag{
	Name:  "purge-secrets",
	Value: false,
	Usage: "also delete the deployment's secrets from the store",
}
var flagSecretName = &cli.StringFlag{
	Name:     "name",
	Required: true,
	Usage:    "secret name",
}
var flagSecretFromFile = &cli.StringFlag{
	Name:  "from-file",
	Usage: "read the secret value from this file instead of stdin",
}

func main() {
	app := &cli.App{
		Name:  "iapgw-provisioner",
		Usage: "Provision an IAP-only gateway VM from a deployment manifest",
		Flags: append([]cli.Flag{
			flagManifest,
			flagProject,
			flagZone,
			flagName,
			flagMachineType,
			flags.LogServiceFlagFn("iapgw-provisioner"),
		}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:  "provision",
				Usage: "create or repair the deployment",
				Flags: []cli.Flag{flagSSHKey, flagSSHUser, flagHealthTimeout},
				Action: func(cCtx *cli.Context) error {
					p, closeFn, err := setupProvisioner(cCtx)
					if err != nil {
						return err
					}
					defer closeFn()
					p.SSHKeyPath = cCtx.String(flagSSHKey.Name)
					p.SSHUser = cCtx.String(flagSSHUser.Name)
					p.HealthTimeout = cCtx.Duration(flagHealthTimeout.Name)
					return p.Provision(cCtx.Context)
				},
			},
			{
				Name:  "teardown",
				Usage: "delete the deployment's compute resources",
				Flags: []cli.Flag{flagPurgeSecrets},
				Action: func(cCtx *cli.Context) error {
					p, closeFn, err := setupProvisioner(cCtx)
					if err != nil {
						return err
					}
					defer closeFn()
					return p.Teardown(cCtx.Context, provision.TeardownOpts{
						PurgeSecrets: cCtx.Bool(flagPurgeSecrets.Name),
					})
				},
			},
			{
				Name:  "status",
				Usage: "print the deployment's state as JSON",
				Action: func(cCtx *cli.Context) error {
					p, closeFn, err := setupProvisioner(cCtx)
					if err != nil {
						return err
					}
					defer closeFn()
					st, err := p.Status(cCtx.Context)
					if err != nil {
						return err
					}
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(st)
				},
			},
			{
				Name:  "secret",
				Usage: "manage deployment secrets",
				Subcommands: []*cli.Command{
					{
						Name:  "set",
						Usage: "write a secret value, read from stdin or --from-file",
						Flags: []cli.Flag{flagSecretName, flagSecretFromFile},
						Action: func(cCtx *cli.Context) error {
							return secretSet(cCtx)
						},
					},
					{
						Name:  "list",
						Usage: "list deployment secrets and whether they still hold the placeholder",
						Action: func(cCtx *cli.Context) error {
							return secretList(cCtx)
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadManifest reads the manifest and applies the CLI overrides.
func loadManifest(cCtx *cli.Context) (*manifest.Manifest, error) {
	m, err := manifest.Load(cCtx.String(flagManifest.Name))
	if err != nil {
		return nil, err
	}

	if v := cCtx.String(flagProject.Name); v != "" {
		m.Project = v
	}
	if v := cCtx.String(flagZone.Name); v != "" {
		m.Zone = v
	}
	if v := cCtx.String(flagName.Name); v != "" {
		m.Name = v
	}
	if v := cCtx.String(flagMachineType.Name); v != "" {
		m.MachineType = v
	}
	if err := m.Finalize(); err != nil {
		return nil, err
	}
	return m, nil
}

func setupProvisioner(cCtx *cli.Context) (*provision.Provisioner, func(), error) {
	logger := flags.SetupLogger(cCtx)

	m, err := loadManifest(cCtx)
	if err != nil {
		return nil, nil, err
	}

	conn, err := gcp.Connect(cCtx.Context, gcp.ConnectionConfig{
		ProjectID: m.Project,
		Log:       logger,
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := storeFor(cCtx.Context, m, logger)
	if err != nil {
		return nil, nil, err
	}

	p := &provision.Provisioner{
		Manifest:     m,
		Cloud:        conn,
		Store:        store,
		Log:          logger,
		PollInterval: 5 * time.Second,
	}
	return p, func() {
		if closer, ok := store.(io.Closer); ok {
			closer.Close()
		}
	}, nil
}

func storeFor(ctx context.Context, m *manifest.Manifest, logger *slog.Logger) (interfaces.SecretStore, error) {
	loc, err := interfaces.NewStoreLocation(m.SecretStore)
	if err != nil {
		return nil, err
	}
	return secrets.NewFactory(logger).StoreFor(ctx, loc)
}

func secretSet(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	m, err := loadManifest(cCtx)
	if err != nil {
		return err
	}
	name, err := interfaces.NewSecretName(cCtx.String(flagSecretName.Name))
	if err != nil {
		return err
	}

	var value []byte
	if path := cCtx.String(flagSecretFromFile.Name); path != "" {
		value, err = os.ReadFile(path)
	} else {
		value, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading secret value: %w", err)
	}
	if len(value) == 0 {
		return fmt.Errorf("refusing to store an empty secret value")
	}

	store, err := storeFor(cCtx.Context, m, logger)
	if err != nil {
		return err
	}
	if err := store.Put(cCtx.Context, name, value); err != nil {
		return err
	}
	logger.Info("Secret stored", slog.String("secret", name.String()))
	return nil
}

func secretList(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	m, err := loadManifest(cCtx)
	if err != nil {
		return err
	}
	store, err := storeFor(cCtx.Context, m, logger)
	if err != nil {
		return err
	}

	names, err := store.List(cCtx.Context)
	if err != nil {
		return err
	}

	type entry struct {
		Name   string `json:"name"`
		EnvKey string `json:"env_key"`
		State  string `json:"state"`
	}
	out := make([]entry, 0, len(names))
	for _, name := range names {
		state := "set"
		value, err := store.Fetch(cCtx.Context, name)
		switch {
		case err != nil:
			state = "error"
		case string(value) == interfaces.SentinelUnset:
			state = "unset"
		}
		out = append(out, entry{Name: name.String(), EnvKey: name.EnvKey(), State: state})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
