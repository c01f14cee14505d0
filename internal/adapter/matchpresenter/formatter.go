package matchpresenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/jwp-labs/rankduel/internal/msgcat"
	"github.com/jwp-labs/rankduel/internal/namepool"
	"github.com/jwp-labs/rankduel/internal/util"
	"github.com/jwp-labs/rankduel/pkg/rankdto"
)

const defaultMaxItems = 32

// PrefixProvider exposes the command prefix messages should reference.
type PrefixProvider interface {
	Prefix() string
}

// Formatter renders ranking DTOs into chat-ready text blocks. One-line
// messages come from the catalog so operators can reword them; structural
// lists are built here.
type Formatter struct {
	prefixProvider PrefixProvider
	cat            *msgcat.Catalog
	maxItems       int
}

func NewFormatter(provider PrefixProvider, cat *msgcat.Catalog, maxItems int) *Formatter {
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	return &Formatter{prefixProvider: provider, cat: cat, maxItems: maxItems}
}

func (f *Formatter) Prefix() string {
	if f == nil || f.prefixProvider == nil {
		return ""
	}
	return strings.TrimSpace(f.prefixProvider.Prefix())
}

// text renders a catalog key, falling back to the prebuilt message when the
// catalog is missing or the template fails.
func (f *Formatter) text(key string, data map[string]any, fallback string) string {
	if f != nil && f.cat != nil {
		if out, err := f.cat.Render(key, data); err == nil {
			return out
		}
	}
	return fallback
}

func (f *Formatter) Start(state *rankdto.RunState, resumed bool) string {
	if state == nil {
		return f.NoRun()
	}
	var sb strings.Builder
	if resumed {
		seq := state.Played + 1
		sb.WriteString(f.text("run.resumed",
			map[string]any{"Seq": seq, "Total": state.TotalPairs},
			fmt.Sprintf("▶️ Resumed your ranking run at matchup %d/%d.", seq, state.TotalPairs)))
	} else {
		title := runTitle(state)
		sb.WriteString(f.text("run.started",
			map[string]any{"Title": title, "Count": len(state.Items), "Pairs": state.TotalPairs},
			fmt.Sprintf("🏁 %s — ranking run started with %d candidates (%d matchups).", title, len(state.Items), state.TotalPairs)))
	}
	if prompt := f.promptBlock(state.Next); prompt != "" {
		sb.WriteString("\n\n")
		sb.WriteString(prompt)
	}
	return sb.String()
}

// Current re-prints the pending matchup of an active run.
func (f *Formatter) Current(state *rankdto.RunState) string {
	if state == nil || state.Next == nil {
		return f.NoRun()
	}
	return f.promptBlock(state.Next)
}

func (f *Formatter) Choice(summary *rankdto.ChoiceSummary) string {
	if summary == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(outcomeBadge(summary.Outcome, summary.Left.Item.DisplayName, summary.Right.Item.DisplayName))
	sb.WriteString("\n")
	appendRatingLine(&sb, summary.Left)
	appendRatingLine(&sb, summary.Right)

	if summary.Finished {
		winner := ""
		if len(summary.Standings) > 0 {
			winner = summary.Standings[0].Item.DisplayName
		}
		sb.WriteString("\n")
		sb.WriteString(f.text("run.finished",
			map[string]any{"Winner": winner},
			fmt.Sprintf("🏆 All matchups played! Champion: %s", winner)))
		sb.WriteString("\n\n")
		appendStandingLines(&sb, summary.Standings)
		return strings.TrimRight(sb.String(), "\n")
	}

	if prompt := f.promptBlock(summary.Next); prompt != "" {
		sb.WriteString("\n")
		sb.WriteString(prompt)
	}
	return sb.String()
}

// RunStandings shows the live table of the active run.
func (f *Formatter) RunStandings(state *rankdto.RunState, rows []rankdto.Standing) string {
	if state == nil || len(rows) == 0 {
		return f.NoRun()
	}
	var sb strings.Builder
	title := runTitle(state)
	sb.WriteString(f.text("standings.header",
		map[string]any{"Title": title},
		"📊 Standings — "+title))
	sb.WriteString(fmt.Sprintf("\n• Progress: %d/%d matchups\n\n", state.Played, state.TotalPairs))
	appendStandingLines(&sb, rows)
	return strings.TrimRight(sb.String(), "\n")
}

// Leaderboard shows the room table accumulated across finished runs.
func (f *Formatter) Leaderboard(rows []rankdto.Standing) string {
	if len(rows) == 0 {
		return f.text("standings.empty", nil, "No standings for this room yet.")
	}
	var sb strings.Builder
	sb.WriteString(f.text("standings.header",
		map[string]any{"Title": "room leaderboard"},
		"📊 Standings — room leaderboard"))
	sb.WriteString("\n\n")
	appendStandingLines(&sb, rows)
	sb.WriteString(fmt.Sprintf("\nRatings carry over between runs. New run: `%srank start`.", f.Prefix()))
	return sb.String()
}

func (f *Formatter) History(runs []rankdto.RunSummary) string {
	if len(runs) == 0 {
		return f.text("history.none", nil, "No finished runs recorded for this room.")
	}
	var sb strings.Builder
	sb.WriteString(f.text("history.header", nil, "📚 Recent runs"))
	sb.WriteString("\n")
	for _, run := range runs {
		sb.WriteString(fmt.Sprintf("• %s %s %s — %s (%d items, %d matchups)\n",
			shortUUID(run.RunUUID), statusBadge(run.Status), formatShortTime(run.EndedAt), poolLabel(run.PoolKey), run.ItemCount, run.Comparisons))
		if run.Winner != "" {
			sb.WriteString(fmt.Sprintf("  🏆 %s\n", run.Winner))
		}
	}
	sb.WriteString(fmt.Sprintf("\nDetails: `%srank run <id>`.", f.Prefix()))
	return sb.String()
}

func (f *Formatter) RunDetail(run *rankdto.RunSummary) string {
	if run == nil {
		return f.NoRun()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🏁 Run %s\n", shortUUID(run.RunUUID)))
	sb.WriteString(fmt.Sprintf("• Result: %s\n", statusBadge(run.Status)))
	sb.WriteString(fmt.Sprintf("• Pool: %s\n", poolLabel(run.PoolKey)))
	sb.WriteString(fmt.Sprintf("• Matchups: %d\n", run.Comparisons))
	if !run.EndedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("• Ended: %s\n", formatShortTime(run.EndedAt)))
	}
	if run.Duration > 0 {
		sb.WriteString(fmt.Sprintf("• Duration: %s\n", formatRunDuration(run.Duration)))
	}
	if len(run.FinalOrder) > 0 {
		sb.WriteString("\nFinal order:\n")
		for i, name := range run.FinalOrder {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, name))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) Pools(pools []namepool.Pool) string {
	var sb strings.Builder
	sb.WriteString(f.text("pools.header", nil, "🗂 Available pools"))
	sb.WriteString("\n")
	for _, pool := range pools {
		sb.WriteString(fmt.Sprintf("• %s — %s (%d names)\n", pool.Key, pool.Title, len(pool.Names)))
		sb.WriteString("  ")
		sb.WriteString(util.TruncateRunes(strings.Join(pool.Names, ", "), 80))
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("\nStart one with `%srank start <pool>`.", f.Prefix()))
	return sb.String()
}

func (f *Formatter) SyncStatus(status *rankdto.QueueStatus) string {
	if status == nil {
		return f.InternalError()
	}
	state := "offline"
	if status.Online {
		state = "online"
	}
	var sb strings.Builder
	sb.WriteString(f.text("sync.status",
		map[string]any{"State": state, "Pending": status.Pending, "Dead": status.DeadLettered},
		fmt.Sprintf("Relay %s | pending %d | dead-letter %d", state, status.Pending, status.DeadLettered)))
	for _, w := range status.Writes {
		sb.WriteString(fmt.Sprintf("\n• %s %s", w.Kind, formatShortTime(w.EnqueuedAt)))
		if w.Attempts > 0 {
			sb.WriteString(fmt.Sprintf(" (attempts: %d)", w.Attempts))
		}
	}
	return sb.String()
}

func (f *Formatter) Drained(count int) string {
	return f.text("sync.drained",
		map[string]any{"Count": count},
		fmt.Sprintf("🔄 Relay sync complete: %d queued write(s) delivered.", count))
}

func (f *Formatter) Undo(state *rankdto.RunState) string {
	var sb strings.Builder
	sb.WriteString(f.text("undo.done", nil, "↩️ Last result rolled back."))
	if state != nil {
		if prompt := f.promptBlock(state.Next); prompt != "" {
			sb.WriteString("\n\n")
			sb.WriteString(prompt)
		}
	}
	return sb.String()
}

func (f *Formatter) Abandoned(state *rankdto.RunState) string {
	played, total := 0, 0
	if state != nil {
		played, total = state.Played, state.TotalPairs
	}
	return f.text("run.abandoned",
		map[string]any{"Played": played, "Total": total},
		fmt.Sprintf("🛑 Run abandoned after %d/%d matchups.", played, total))
}

func (f *Formatter) Help() string {
	prefix := f.Prefix()
	fallback := fmt.Sprintf("📋 rankduel commands\n• %srank start <pool> | %srank start name1, name2, ...\n• %s1 / %s2 / %stie\n• %srank standings | %srank undo | %srank history\n• %srank sync | %srank quit",
		prefix, prefix, prefix, prefix, prefix, prefix, prefix, prefix, prefix, prefix)
	return f.text("help", map[string]any{"Prefix": prefix}, fallback)
}

func (f *Formatter) NoRun() string {
	return f.text("run.none",
		map[string]any{"Prefix": f.Prefix()},
		fmt.Sprintf("No ranking run is active. Start one with %srank start.", f.Prefix()))
}

func (f *Formatter) Busy() string {
	return f.text("run.busy",
		map[string]any{"Prefix": f.Prefix()},
		fmt.Sprintf("A run is already in progress here. Finish it or use %srank quit.", f.Prefix()))
}

func (f *Formatter) NothingToUndo() string {
	return f.text("undo.none", nil, "Nothing to undo yet.")
}

func (f *Formatter) BadChoice() string {
	return f.text("errors.bad_choice", nil, "Pick 1, 2 or tie.")
}

func (f *Formatter) UnknownPool(token string) string {
	return f.text("errors.unknown_pool",
		map[string]any{"Token": token, "Prefix": f.Prefix()},
		fmt.Sprintf("Unknown pool %s. See %srank pools.", token, f.Prefix()))
}

func (f *Formatter) TooFewItems() string {
	return f.text("errors.too_few", nil, "Need at least 2 distinct names to rank.")
}

func (f *Formatter) TooManyItems() string {
	return f.text("errors.too_many",
		map[string]any{"Max": f.maxItems},
		fmt.Sprintf("That's too many names; the limit is %d.", f.maxItems))
}

func (f *Formatter) InternalError() string {
	return f.text("errors.internal", nil, "Something went wrong. Please try again.")
}

func (f *Formatter) promptBlock(next *rankdto.Matchup) string {
	if next == nil {
		return ""
	}
	prefix := f.Prefix()
	return f.text("match.prompt",
		map[string]any{
			"Seq":    next.Sequence,
			"Total":  next.Total,
			"Left":   next.Left.DisplayName,
			"Right":  next.Right.DisplayName,
			"Prefix": prefix,
		},
		fmt.Sprintf("Matchup %d/%d\n1️⃣ %s\n2️⃣ %s\nPick with %s1, %s2 or %stie.",
			next.Sequence, next.Total, next.Left.DisplayName, next.Right.DisplayName, prefix, prefix, prefix))
}

func runTitle(state *rankdto.RunState) string {
	if state != nil && strings.TrimSpace(state.PoolTitle) != "" {
		return state.PoolTitle
	}
	return "Custom list"
}

func outcomeBadge(outcome, left, right string) string {
	switch outcome {
	case "left":
		return fmt.Sprintf("✅ %s takes it", left)
	case "right":
		return fmt.Sprintf("✅ %s takes it", right)
	case "tie":
		return fmt.Sprintf("🤝 %s and %s tie", left, right)
	default:
		return "Result recorded"
	}
}

func appendRatingLine(sb *strings.Builder, change rankdto.RatingChange) {
	sb.WriteString(fmt.Sprintf("• %s: %d", change.Item.DisplayName, change.NewRating))
	if change.Delta > 0 {
		sb.WriteString(fmt.Sprintf(" (▲%d)", change.Delta))
	} else if change.Delta < 0 {
		sb.WriteString(fmt.Sprintf(" (▼%d)", -change.Delta))
	} else {
		sb.WriteString(" (no change)")
	}
	sb.WriteString("\n")
}

func appendStandingLines(sb *strings.Builder, rows []rankdto.Standing) {
	for _, row := range rows {
		sb.WriteString(fmt.Sprintf("%d. %s — %d (%dW %dL %dT)\n",
			row.Rank, row.Item.DisplayName, row.Rating, row.Wins, row.Losses, row.Ties))
	}
}

func statusBadge(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "finished":
		return "✅ finished"
	case "abandoned":
		return "🛑 abandoned"
	default:
		return "▫️ " + status
	}
}

func poolLabel(key string) string {
	if strings.TrimSpace(key) == "" {
		return "custom list"
	}
	return key
}

func shortUUID(u string) string {
	if len(u) > 8 {
		return u[:8]
	}
	return u
}

func formatShortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

func formatRunDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
