package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/perimeterlabs/iapgw/agent"
	"github.com/perimeterlabs/iapgw/cmd/flags"
	"github.com/perimeterlabs/iapgw/httpserver"
	"github.com/perimeterlabs/iapgw/interfaces"
	"github.com/perimeterlabs/iapgw/secrets"
)

var flagSecretStore = &cli.StringFlag{
	Name:     "secret-store",
	Required: true,
	Usage:    "secret store URI, e.g. gcpsm://project?label=deployment",
	EnvVars:  []string{"IAPGW_SECRET_STORE"},
}
var flagArtifactURL = &cli.StringFlag{
	Name:     "artifact-url",
	Required: true,
	Usage:    "gateway artifact URL (https://, s3:// or file://)",
	EnvVars:  []string{"IAPGW_ARTIFACT_URL"},
}
var flagArtifactSHA256 = &cli.StringFlag{
	Name:     "artifact-sha256",
	Required: true,
	Usage:    "SHA-256 pin of the gateway artifact",
	EnvVars:  []string{"IAPGW_ARTIFACT_SHA256"},
}
var flagGatewayPort = &cli.IntFlag{
	Name:  "gateway-port",
	Value: 8443,
	Usage: "port the gateway listens on",
}
var flagGatewayArg = &cli.StringSliceFlag{
	Name:  "gateway-arg",
	Usage: "extra argument appended to the gateway's command line, repeatable",
}
var flagBinaryPath = &cli.StringFlag{
	Name:  "binary-path",
	Value: "/opt/iapgw/bin/gateway",
	Usage: "where the gateway binary is installed",
}
var flagEnvFile = &cli.StringFlag{
	Name:  "env-file",
	Value: "/run/iapgw/gateway.env",
	Usage: "tmpfs path receiving the materialized secrets",
}
var flagUnitPath = &cli.StringFlag{
	Name:  "unit-path",
	Value: "/etc/systemd/system/" + agent.GatewayUnit,
	Usage: "path of the gateway's systemd unit file",
}
var flagAllowDisk = &cli.BoolFlag{
	Name:  "allow-disk",
	Value: false,
	Usage: "allow the env file on non-tmpfs storage (dev only)",
}
var flagSkipNetworkWait = &cli.BoolFlag{
	Name:  "skip-network-wait",
	Value: false,
	Usage: "skip the DNS readiness probe",
}
var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8081",
	Usage: "address to listen on for diagnostics API",
}

func main() {
	app := &cli.App{
		Name:  "iapgw-agent",
		Usage: "Boot agent for the iapgw gateway VM",
		Flags: append([]cli.Flag{
			flagSecretStore,
			flagArtifactURL,
			flagArtifactSHA256,
			flagGatewayPort,
			flagGatewayArg,
			flagBinaryPath,
			flagEnvFile,
			flagUnitPath,
			flagAllowDisk,
			flagSkipNetworkWait,
			flags.LogServiceFlagFn("iapgw-agent"),
		}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:  "ensure",
				Usage: "bring the VM to the desired state and serve diagnostics",
				Flags: []cli.Flag{flagListenAddr},
				Action: func(cCtx *cli.Context) error {
					return runEnsure(cCtx)
				},
			},
			{
				Name:  "refresh",
				Usage: "re-materialize secrets, restart the gateway if they changed",
				Action: func(cCtx *cli.Context) error {
					a, err := setupAgent(cCtx)
					if err != nil {
						return err
					}
					return a.Refresh(cCtx.Context)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupAgent(cCtx *cli.Context) (*agent.Agent, error) {
	logger := flags.SetupLogger(cCtx)

	loc, err := interfaces.NewStoreLocation(cCtx.String(flagSecretStore.Name))
	if err != nil {
		return nil, err
	}
	store, err := secrets.NewFactory(logger).StoreFor(cCtx.Context, loc)
	if err != nil {
		return nil, err
	}

	systemd, err := agent.ConnectSystemd(cCtx.Context)
	if err != nil {
		return nil, err
	}

	return agent.New(agent.Config{
		ArtifactURL:     cCtx.String(flagArtifactURL.Name),
		ArtifactSHA256:  cCtx.String(flagArtifactSHA256.Name),
		GatewayPort:     cCtx.Int(flagGatewayPort.Name),
		GatewayArgs:     cCtx.StringSlice(flagGatewayArg.Name),
		BinaryPath:      cCtx.String(flagBinaryPath.Name),
		EnvFile:         cCtx.String(flagEnvFile.Name),
		UnitPath:        cCtx.String(flagUnitPath.Name),
		AllowDisk:       cCtx.Bool(flagAllowDisk.Name),
		SkipNetworkWait: cCtx.Bool(flagSkipNetworkWait.Name),
	}, store, systemd, agent.NewGuestAttributePublisher(""), logger), nil
}

func runEnsure(cCtx *cli.Context) error {
	a, err := setupAgent(cCtx)
	if err != nil {
		return err
	}
	logger := flags.SetupLogger(cCtx)

	if err := a.Ensure(cCtx.Context); err != nil {
		return err
	}

	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flagListenAddr.Name))
	srv, err := httpserver.New(cfg, httpserver.NewHandler(a, logger))
	if err != nil {
		return err
	}
	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit

	logger.Info("Shutting down")
	time.Sleep(time.Second)
	srv.Shutdown()
	return nil
}
