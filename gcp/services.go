package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/serviceusage/v1"
)

// RequiredServices are the APIs the provisioning pipeline calls.
var RequiredServices = []string{
	"compute.googleapis.com",
	"secretmanager.googleapis.com",
	"iap.googleapis.com",
	"cloudresourcemanager.googleapis.com",
}

// EnsureServiceEnabled enables the named API if it is not already enabled.
func (c *Connection) EnsureServiceEnabled(ctx context.Context, service string) (changed bool, err error) {
	name := fmt.Sprintf("projects/%s/services/%s", c.projectID, service)

	svc, err := c.serviceusage.Services.Get(name).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("getting service state for %s: %w", service, err)
	}
	if svc.State == "ENABLED" {
		c.log.Debug("API already enabled", slog.String("service", service))
		return false, nil
	}

	op, err := c.serviceusage.Services.Enable(name, &serviceusage.EnableServiceRequest{}).
		Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("enabling %s: %w", service, err)
	}

	for !op.Done {
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("waiting for %s enablement: %w", service, ctx.Err())
		case <-time.After(operationPollInterval):
		}
		op, err = c.serviceusage.Operations.Get(op.Name).Context(ctx).Do()
		if err != nil {
			return false, fmt.Errorf("polling %s enablement: %w", service, err)
		}
	}
	if op.Error != nil {
		return false, fmt.Errorf("enabling %s: %s", service, op.Error.Message)
	}

	c.log.Info("API enabled", slog.String("service", service))
	return true, nil
}
