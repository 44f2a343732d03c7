package gcp

import (
	"context"
	"fmt"
	"time"
)

const operationPollInterval = 2 * time.Second

// waitOp polls a compute operation until it is DONE or ctx expires.
// The getter re-fetches the operation in the right collection (global,
// regional or zonal).
func (c *Connection) waitOp(ctx context.Context, name string, getter func() (status string, opErr error, err error)) error {
	for {
		status, opErr, err := getter()
		if err != nil {
			return fmt.Errorf("polling operation %s: %w", name, err)
		}
		if status == "DONE" {
			return opErr
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for operation %s: %w", name, ctx.Err())
		case <-time.After(operationPollInterval):
		}
	}
}

// waitGlobalOp blocks until the named global operation completes.
func (c *Connection) waitGlobalOp(ctx context.Context, name string) error {
	return c.waitOp(ctx, name, func() (string, error, error) {
		op, err := c.compute.GlobalOperations.Get(c.projectID, name).Context(ctx).Do()
		if err != nil {
			return "", nil, err
		}
		if op.Status == "DONE" && op.Error != nil {
			return op.Status, operationError(op), nil
		}
		return op.Status, nil, nil
	})
}

// waitZoneOp blocks until the named zonal operation completes.
func (c *Connection) waitZoneOp(ctx context.Context, zone, name string) error {
	return c.waitOp(ctx, name, func() (string, error, error) {
		op, err := c.compute.ZoneOperations.Get(c.projectID, zone, name).Context(ctx).Do()
		if err != nil {
			return "", nil, err
		}
		if op.Status == "DONE" && op.Error != nil {
			return op.Status, operationError(op), nil
		}
		return op.Status, nil, nil
	})
}

// waitRegionOp blocks until the named regional operation completes.
func (c *Connection) waitRegionOp(ctx context.Context, region, name string) error {
	return c.waitOp(ctx, name, func() (string, error, error) {
		op, err := c.compute.RegionOperations.Get(c.projectID, region, name).Context(ctx).Do()
		if err != nil {
			return "", nil, err
		}
		if op.Status == "DONE" && op.Error != nil {
			return op.Status, operationError(op), nil
		}
		return op.Status, nil, nil
	})
}
