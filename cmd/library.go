package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/stemx/internal/formatter"
	"github.com/desertthunder/stemx/internal/shared"
	"github.com/desertthunder/stemx/internal/storage"
)

// Collections lists every collection with its item count.
func (r *Runner) Collections(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	collections, err := r.store.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(collections, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("Collections (%d)", len(collections)))
	for i, c := range collections {
		marker := ""
		if c.HasIsolated {
			marker = " • stems"
		}
		r.writePlain("%d. %s (%d items)%s\n", i+1, c.Name, c.Count, marker)
	}
	return nil
}

// Items lists the items of a collection, or exports them with --format.
func (r *Runner) Items(ctx context.Context, cmd *cli.Command) error {
	collection := cmd.StringArg("collection")
	if collection == "" {
		return fmt.Errorf("%w: collection", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	items, err := r.store.ListKnownItems(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}
	listing := formatter.Listing{Collection: collection, Items: items}

	if cmd.Bool("json") {
		return r.writeJSON(listing, cmd.Bool("pretty"))
	}

	if cmd.IsSet("format") || cmd.IsSet("output") {
		format, err := formatter.ParseFormat(cmd.String("format"))
		if err != nil {
			return err
		}
		path, err := formatter.WriteExport(listing, format, cmd.String("output"))
		if err != nil {
			return err
		}
		r.logger.Info("exported items", "collection", collection, "count", len(items), "path", path)
		return r.writePlain("✓ Exported %d item(s) to %s\n", len(items), path)
	}

	data, err := formatter.ExportToText(listing)
	if err != nil {
		return err
	}
	return r.writePlain("%s", data)
}

// Stems lists the stems and covers of one item.
func (r *Runner) Stems(ctx context.Context, cmd *cli.Command) error {
	collection, item := cmd.StringArg("collection"), cmd.StringArg("item")
	if collection == "" || item == "" {
		return fmt.Errorf("%w: collection and item", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	stems, err := r.store.ListStems(ctx, collection, item)
	if err != nil {
		return fmt.Errorf("failed to list stems: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(stems, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("%s (%d)", target(collection, item), len(stems)))
	for _, s := range stems {
		r.writePlain("%-7s %s\n", s.Role, s.Name)
		if s.URL != "" {
			r.writePlain("        %s\n", s.URL)
		}
	}
	return nil
}

// Samples lists the stems of every collection.
func (r *Runner) Samples(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	groups, err := r.store.ListSamples(ctx)
	if err != nil {
		return fmt.Errorf("failed to list samples: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(groups, cmd.Bool("pretty"))
	}

	for _, g := range groups {
		r.writePlainln("%s (%d)", g.Name, g.Count)
		for _, s := range g.Stems {
			r.writePlain("  %-7s %s\n", s.Role, s.Name)
		}
	}
	return nil
}

// Delete removes files of a collection or item.
func (r *Runner) Delete(ctx context.Context, cmd *cli.Command) error {
	collection := cmd.StringArg("collection")
	if collection == "" {
		return fmt.Errorf("%w: collection", shared.ErrMissingArgument)
	}
	kind, err := storage.ParseDeleteKind(cmd.String("type"))
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	result, err := r.store.Delete(ctx, storage.DeleteRequest{
		Collection: collection,
		Item:       cmd.StringArg("item"),
		Kind:       kind,
		Remote:     !cmd.Bool("local-only"),
	})
	if err != nil {
		return fmt.Errorf("delete failed after %s: %w", result.Message(), err)
	}
	return r.writePlain("✓ %s\n", result.Message())
}

// StorageInfo reports local and remote usage.
func (r *Runner) StorageInfo(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	usage, err := r.store.Usage(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(usage, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Storage")
	r.writePlain("Local:  %s (%s)\n", usage.LocalHuman, usage.LocalPath)
	switch {
	case !usage.RemoteEnabled:
		r.writePlain("Remote: disabled\n")
	case usage.RemoteBytes < 0:
		r.writePlain("Remote: %s (size unavailable)\n", usage.Backend)
	default:
		r.writePlain("Remote: %s (%s)\n", usage.RemoteHuman, usage.Backend)
	}
	return nil
}
