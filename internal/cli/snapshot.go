package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/aretw0/audiencia/internal/presentation/graph"
	"github.com/hashicorp/go-multierror"
)

// ListSnapshots prints the session ids with a stored snapshot.
func ListSnapshots(ctx context.Context, app *App, out io.Writer) error {
	snaps, err := app.Snapshots()
	if err != nil {
		return err
	}
	ids, err := snaps.List(ctx)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No snapshots found.")
		return nil
	}
	slices.Sort(ids)
	fmt.Fprintln(out, "Snapshots:")
	for _, id := range ids {
		fmt.Fprintf(out, "- %d\n", id)
	}
	return nil
}

// InspectSnapshot prints one snapshot as JSON, or its dialogue graph as Mermaid with the
// current node highlighted.
func InspectSnapshot(ctx context.Context, app *App, arg string, mermaid bool, out io.Writer) error {
	id, err := parseSessionID(arg)
	if err != nil {
		return err
	}
	snaps, err := app.Snapshots()
	if err != nil {
		return err
	}
	snap, err := snaps.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load snapshot %d: %w", id, err)
	}

	if mermaid {
		if snap.Graph == nil {
			return fmt.Errorf("snapshot %d has no dialogue graph", id)
		}
		overlay := &graph.Overlay{}
		if snap.Dialogue != nil {
			overlay.CurrentNode = snap.Dialogue.CurrentNodeID
		}
		fmt.Fprint(out, graph.GenerateMermaid(snap.Graph, overlay))
		return nil
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

// RemoveSnapshots deletes every listed snapshot and reports all failures together.
func RemoveSnapshots(ctx context.Context, app *App, args []string, out io.Writer) error {
	snaps, err := app.Snapshots()
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, arg := range args {
		id, err := parseSessionID(arg)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := snaps.Delete(ctx, id); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove %d: %w", id, err))
			continue
		}
		fmt.Fprintf(out, "Removed snapshot %d\n", id)
	}
	return result.ErrorOrNil()
}

func parseSessionID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", s)
	}
	return id, nil
}
