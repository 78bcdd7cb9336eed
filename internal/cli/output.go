package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mcoot/islandgame/internal/api/response"
	"github.com/mcoot/islandgame/internal/model"
	"github.com/mcoot/islandgame/internal/services/audit"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to stdout
func NewOutput(format string) *Output {
	return &Output{format: format, w: os.Stdout}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.User:
		o.printUser(v)
	case response.AuthResponse:
		o.printAuth(v)
	case response.HistoryResponse:
		o.printHistory(v)
	case response.Game:
		o.printGame(v)
	case response.LeaderboardResponse:
		o.printLeaderboard(v)
	case response.Health:
		o.printHealth(v)
	case *audit.Report:
		o.printAudit(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printUser(u response.User) {
	fmt.Fprintf(o.w, "User: %s (%s)\n", u.Name, u.ID)
	fmt.Fprintf(o.w, "Coins: %d\n", u.Coins)
	fmt.Fprintf(o.w, "Record: %d won, %d lost, %d drawn\n", u.Wins, u.Losses, u.Draws)
}

func (o *Output) printAuth(a response.AuthResponse) {
	o.printUser(a.User)
	fmt.Fprintf(o.w, "Token: %s\n", a.SessionToken)
}

func (o *Output) printHistory(h response.HistoryResponse) {
	if len(h.Games) == 0 {
		fmt.Fprintln(o.w, "No finished games")
		return
	}
	for _, g := range h.Games {
		fmt.Fprintf(o.w, "%s  %-4s vs %-16s %2d-%-2d %s (%s)\n",
			g.EndedAt.Format("2006-01-02 15:04"), g.Result, g.OpponentName,
			g.MyArea, g.OpponentArea, g.Status, g.EndReason)
		fmt.Fprintf(o.w, "    %s\n", g.GameID)
	}
}

func (o *Output) printGame(g response.Game) {
	fmt.Fprintf(o.w, "Game: %s\n", g.ID)
	fmt.Fprintf(o.w, "Status: %s\n", g.Status)
	fmt.Fprintf(o.w, "Opponent: %s\n", g.Opponent.Name)
	fmt.Fprintf(o.w, "Colors: you %s, opponent %s\n", g.MyColor, g.OpponentColor)
	if g.Result != "" {
		fmt.Fprintf(o.w, "Result: %s (%s)\n", g.Result, g.EndReason)
	}
	fmt.Fprintf(o.w, "Areas: %d vs %d\n", g.MyArea, g.OpponentArea)
	fmt.Fprintln(o.w)

	grid := make([]*model.UserID, len(g.Grid))
	for i, owner := range g.Grid {
		if owner != nil {
			id := model.UserID(*owner)
			grid[i] = &id
		}
	}
	fmt.Fprint(o.w, RenderBoard(grid, model.UserID(g.Opponent.ID), true))
}

func (o *Output) printLeaderboard(l response.LeaderboardResponse) {
	for _, e := range l.Entries {
		fmt.Fprintf(o.w, "%3d. %-20s %6d coins  %d/%d/%d\n", e.Rank, e.Name, e.Coins, e.Wins, e.Losses, e.Draws)
	}
}

func (o *Output) printHealth(h response.Health) {
	fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	fmt.Fprintf(o.w, "Connections: %d\n", h.Connections)
	fmt.Fprintf(o.w, "Active sessions: %d\n", h.ActiveSessions)
	fmt.Fprintf(o.w, "Queue length: %d\n", h.QueueLength)
}

func (o *Output) printAudit(r *audit.Report) {
	fmt.Fprintf(o.w, "Checked %d games\n", r.Checked)
	if r.OK() {
		fmt.Fprintln(o.w, "No issues found")
		return
	}
	for _, issue := range r.Issues {
		fmt.Fprintf(o.w, "  - %s\n", issue)
	}
}

// RenderBoard draws grid with the opponent's cells as O and the viewer's
// as X. Free cells show their index unless final is set.
func RenderBoard(grid []*model.UserID, opponent model.UserID, final bool) string {
	var b strings.Builder
	b.WriteString("   +" + strings.Repeat("----", model.GridSize) + "+\n")
	for row := 0; row < model.GridSize; row++ {
		b.WriteString("   |")
		for col := 0; col < model.GridSize; col++ {
			i := row*model.GridSize + col
			switch {
			case i < len(grid) && grid[i] != nil && *grid[i] == opponent:
				b.WriteString("  O ")
			case i < len(grid) && grid[i] != nil:
				b.WriteString("  X ")
			case final:
				b.WriteString("  . ")
			default:
				fmt.Fprintf(&b, " %2d ", i)
			}
		}
		b.WriteString("|\n")
	}
	b.WriteString("   +" + strings.Repeat("----", model.GridSize) + "+\n")
	return b.String()
}
