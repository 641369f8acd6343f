package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/gateway"
	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
)

const requestTimeout = 30 * time.Second

// withService runs fn against the configured gateway.
func (e *env) withService(fn func(ctx context.Context, svc gateway.Service) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	svc, closeFn, err := e.service(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, svc)
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return c.env.withService(func(ctx context.Context, svc gateway.Service) error {
		resp, err := svc.GetStorageMetadata(ctx, &gateway.GetStorageMetadataRequest{})
		if err != nil {
			return fmt.Errorf("read metadata: %w", err)
		}
		if c.env.globals.JSON {
			return c.env.printJSON(resp)
		}

		out := c.env.out
		fmt.Fprintln(out, "Shared Store")
		fmt.Fprintln(out, "============")
		if resp.Metadata == nil {
			fmt.Fprintln(out, "Never synced.")
			return nil
		}
		m := resp.Metadata
		fmt.Fprintf(out, "Last sync:   %s\n", m.LastSyncAt.Local().Format(time.RFC3339))
		if m.ClearedAt != nil {
			fmt.Fprintf(out, "Cleared:     %s\n", m.ClearedAt.Local().Format(time.RFC3339))
		}
		fmt.Fprintf(out, "Schema:      %d\n", m.SchemaVersion)
		fmt.Fprintf(out, "Pending:     %d\n", resp.Pending)
		for _, cat := range storage.Categories() {
			fmt.Fprintf(out, "  %-22s %d\n", cat.Key(), m.Counts[cat.Key()])
		}
		return nil
	})
}

// Execute implements the go-flags Commander interface for PullCommand.
func (c *PullCommand) Execute(args []string) error {
	return c.env.withService(func(ctx context.Context, svc gateway.Service) error {
		resp, err := svc.GetAllPendingData(ctx, &gateway.GetAllPendingDataRequest{})
		if err != nil {
			return fmt.Errorf("pull: %w", err)
		}
		if err := c.env.printJSON(resp); err != nil {
			return err
		}
		if !c.Ack || len(resp.Cursor) == 0 {
			return nil
		}
		if _, err := svc.Acknowledge(ctx, &gateway.AcknowledgeRequest{Cursor: resp.Cursor}); err != nil {
			return fmt.Errorf("acknowledge: %w", err)
		}
		return nil
	})
}

// Execute implements the go-flags Commander interface for ClearCommand.
func (c *ClearCommand) Execute(args []string) error {
	if !c.Force {
		return errors.New("clear deletes undelivered events; pass --force to confirm")
	}
	return c.env.withService(func(ctx context.Context, svc gateway.Service) error {
		resp, err := svc.ClearAllPendingData(ctx, &gateway.ClearAllPendingDataRequest{})
		if err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		if c.env.globals.JSON {
			return c.env.printJSON(resp)
		}
		fmt.Fprintf(c.env.out, "Cleared at %s\n", resp.ClearedAt.Local().Format(time.RFC3339))
		return nil
	})
}

// Execute implements the go-flags Commander interface for AckCommand.
func (c *AckCommand) Execute(args []string) error {
	if len(c.Cursor) == 0 {
		return errors.New("ack requires at least one --cursor key:seq")
	}
	return c.env.withService(func(ctx context.Context, svc gateway.Service) error {
		resp, err := svc.Acknowledge(ctx, &gateway.AcknowledgeRequest{Cursor: gateway.Cursor(c.Cursor)})
		if err != nil {
			return fmt.Errorf("acknowledge: %w", err)
		}
		if c.env.globals.JSON {
			return c.env.printJSON(resp)
		}
		keys := make([]string, 0, len(resp.Removed))
		for k := range resp.Removed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(c.env.out, "%-22s removed %d\n", k, resp.Removed[k])
		}
		return nil
	})
}
