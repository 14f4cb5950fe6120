// Package notify sends poll summaries to chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/h1v3-io/fabsync/pkg/protocol"
)

// maxFailureLines caps how many failed actions a summary lists.
const maxFailureLines = 10

// Notifier delivers a poll report somewhere a human will see it.
type Notifier interface {
	Notify(ctx context.Context, report *protocol.PollReport) error
}

// Multi fans a report out to every notifier. All are tried; their errors
// are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, report *protocol.PollReport) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Summary renders a report as Markdown. Platform senders convert it to
// their own markup.
func Summary(r *protocol.PollReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**fabsync** poll `%s`: %d tickets", shortID(r.ID), r.Tickets)
	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, " in %s", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	b.WriteString("\n")

	if r.Aborted != "" {
		fmt.Fprintf(&b, "**Aborted**: %s\n", r.Aborted)
	}
	if r.Wiped {
		fmt.Fprintf(&b, "**Wiped** all parts, categories and box tubes after %d empty polls\n", r.EmptyStreak)
	}

	writeCounts(&b, "Created", []countLabel{
		{r.Count(protocol.OpPartCreated), "part", "parts"},
		{r.Count(protocol.OpBoxTubeCreated), "box tube", "box tubes"},
		{r.Count(protocol.OpDraftFinalized), "finalized draft", "finalized drafts"},
	})
	writeCounts(&b, "Deleted", []countLabel{
		{r.Count(protocol.OpPartDeleted), "part", "parts"},
		{r.Count(protocol.OpBoxTubeDeleted), "box tube", "box tubes"},
		{r.Count(protocol.OpCategoryDeleted), "category", "categories"},
		{r.Count(protocol.OpDraftDeleted), "draft", "drafts"},
	})
	writeCounts(&b, "Drafts", []countLabel{
		{r.Count(protocol.OpDraftCreated), "created", "created"},
		{r.Count(protocol.OpDraftUpdated), "updated", "updated"},
	})

	if n := r.Count(protocol.OpFailed); n > 0 {
		fmt.Fprintf(&b, "**Failures** (%d):\n", n)
		shown := 0
		for _, a := range r.Actions {
			if a.Op != protocol.OpFailed {
				continue
			}
			if shown == maxFailureLines {
				fmt.Fprintf(&b, "- ... and %d more\n", n-shown)
				break
			}
			fmt.Fprintf(&b, "- `%s` %s\n", a.Ticket, a.Detail)
			shown++
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

type countLabel struct {
	n                int
	singular, plural string
}

func writeCounts(b *strings.Builder, heading string, counts []countLabel) {
	var parts []string
	for _, c := range counts {
		switch {
		case c.n == 1:
			parts = append(parts, "1 "+c.singular)
		case c.n > 1:
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.plural))
		}
	}
	if len(parts) > 0 {
		fmt.Fprintf(b, "%s: %s\n", heading, strings.Join(parts, ", "))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
