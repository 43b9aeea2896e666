package cli

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/crepo/internal/transport"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Path    string
	Deep    bool
	Types   []string
	Since   string // RFC 3339 timestamp
	Limit   int
	NoLocal bool
}

// JournalEvent is the printed form of one journal event.
type JournalEvent struct {
	Cursor      int64             `json:"cursor"`
	Type        string            `json:"type"`
	Path        string            `json:"path"`
	Identifier  string            `json:"identifier,omitempty"`
	PrimaryType string            `json:"primary_type,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	Date        time.Time         `json:"date"`
	Info        map[string]string `json:"info,omitempty"`
}

var eventTypes = []transport.EventType{
	transport.NodeAdded, transport.NodeRemoved,
	transport.PropertyAdded, transport.PropertyRemoved, transport.PropertyChanged,
	transport.NodeMoved, transport.Persist,
}

// parseEventTypes turns names such as NODE_ADDED into an event mask.
func parseEventTypes(names []string) (transport.EventType, error) {
	var mask transport.EventType
	for _, name := range names {
		i := slices.IndexFunc(eventTypes, func(t transport.EventType) bool {
			return strings.EqualFold(t.String(), name)
		})
		if i < 0 {
			return 0, fmt.Errorf("unknown event type %q", name)
		}
		mask |= eventTypes[i]
	}
	return mask, nil
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print the repository event journal",
		Long: `Print the events the repository recorded for saved changes, oldest first.

Examples:
  crepo journal
  crepo journal --path /site --deep --limit 50
  crepo journal --types NODE_ADDED,NODE_MOVED --since 2026-01-02T15:04:05Z`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Path, "path", "", "only events at this path")
	cmd.Flags().BoolVar(&opts.Deep, "deep", false, "include events below --path")
	cmd.Flags().StringSliceVar(&opts.Types, "types", nil, "event types to include (e.g. NODE_ADDED,PERSIST)")
	cmd.Flags().StringVar(&opts.Since, "since", "", "skip events before this RFC 3339 time")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum events (0 means all)")
	cmd.Flags().BoolVar(&opts.NoLocal, "no-local", false, "leave out events caused by the configured user")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	mask, err := parseEventTypes(opts.Types)
	if err != nil {
		return fail(formatter, "invalid --types", err)
	}
	var since time.Time
	if opts.Since != "" {
		since, err = time.Parse(time.RFC3339, opts.Since)
		if err != nil {
			return fail(formatter, "invalid --since", err)
		}
	}

	repo, err := openRepository(ctx, opts.RootOptions, cmd)
	if err != nil {
		return fail(formatter, "failed to open repository", err)
	}
	defer repo.Close(ctx)

	filter := transport.EventFilter{Types: mask, AbsPath: opts.Path, Deep: opts.Deep}
	if opts.NoLocal {
		filter.ExcludeUserID = repo.session.UserID()
	}
	j, err := repo.session.Journal(filter)
	if err != nil {
		return fail(formatter, "failed to open journal", err)
	}
	if !since.IsZero() {
		if err := j.SkipTo(ctx, since); err != nil {
			return fail(formatter, "failed to seek journal", err)
		}
	}
	events, err := j.Next(ctx, opts.Limit)
	if err != nil {
		return fail(formatter, "failed to read journal", err)
	}

	out := make([]JournalEvent, len(events))
	for i, e := range events {
		out[i] = JournalEvent{
			Cursor:      int64(e.Cursor),
			Type:        e.Type.String(),
			Path:        e.Path,
			Identifier:  e.Identifier,
			PrimaryType: e.PrimaryType,
			UserID:      e.UserID,
			Date:        e.Date.UTC(),
			Info:        e.Info,
		}
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}
	w := formatter.Writer
	for _, e := range out {
		fmt.Fprintf(w, "%6d %s %-16s %s", e.Cursor, e.Date.Format(time.RFC3339), e.Type, e.Path)
		if e.UserID != "" {
			fmt.Fprintf(w, " (%s)", e.UserID)
		}
		for _, k := range slices.Sorted(maps.Keys(e.Info)) {
			fmt.Fprintf(w, " %s=%s", k, e.Info[k])
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "(%d event(s))\n", len(out))
	return nil
}
