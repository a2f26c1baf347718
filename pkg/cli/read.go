package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"poetry-feed/pkg/domain"
	"poetry-feed/pkg/feed"
)

const (
	separator = "────────────────────────"

	backfillPollInterval = 50 * time.Millisecond
	maxAdvanceAttempts   = 200
)

func newReadCommand(opts *rootOptions) *cobra.Command {
	var (
		lang  string
		count int
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print poems from a local feed session",
		RunE: func(cmd *cobra.Command, args []string) error {
			language, ok := domain.ParseLanguage(lang)
			if !ok {
				return fmt.Errorf("unsupported language %q", lang)
			}
			if count < 1 {
				return fmt.Errorf("count must be positive")
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			a, err := newApp(cmd.Context(), cfg, log, appOptions{})
			if err != nil {
				return err
			}
			defer a.closeAll(cmd.Context())

			return readFeed(cmd.Context(), cmd.OutOrStdout(), a.manager, language, count)
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "fa", "feed language (fa or en)")
	cmd.Flags().IntVar(&count, "count", 5, "number of poems to print")
	return cmd
}

func readFeed(ctx context.Context, w io.Writer, m *feed.Manager, lang domain.Language, count int) error {
	s := m.Create(ctx, lang)
	defer func() { _ = m.Close(s.ID()) }()

	if s.Snapshot().Fallback {
		fmt.Fprintln(w, "Showing sample content: the poetry API is unavailable.")
		fmt.Fprintln(w)
	}

	for i := 0; i < count; i++ {
		if i > 0 && !advance(ctx, s) {
			break
		}
		p, ok := s.Current()
		if !ok {
			break
		}
		printPoem(w, p)
	}
	return nil
}

// advance moves to the next poem. At the end of the feed it loads more
// poems synchronously, or waits for a backfill already in flight.
func advance(ctx context.Context, s *feed.Session) bool {
	for attempt := 0; attempt < maxAdvanceAttempts; attempt++ {
		if s.Next() {
			return true
		}
		if !s.Snapshot().HasMore {
			return false
		}
		if s.LoadMore(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backfillPollInterval):
		}
	}
	return false
}

func printPoem(w io.Writer, p domain.Poem) {
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "%s: %s\n\n", p.Poet.Name, p.Title)
	fmt.Fprintln(w, strings.TrimSpace(p.Text))
	fmt.Fprintln(w)
}
