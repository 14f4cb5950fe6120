package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/h1v3-io/fabsync/internal/api"
	"github.com/h1v3-io/fabsync/internal/config"
	"github.com/h1v3-io/fabsync/internal/journal"
	"github.com/h1v3-io/fabsync/internal/logbuf"
	"github.com/h1v3-io/fabsync/pkg/protocol"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "status":
		cmdStatus()
	case "polls":
		cmdPolls(os.Args[2:])
	case "poll":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: fabsyncctl poll <id>")
			os.Exit(1)
		}
		cmdPoll(os.Args[2])
	case "actions":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: fabsyncctl actions <ticket>")
			os.Exit(1)
		}
		cmdActions(os.Args[2], os.Args[3:])
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: fabsyncctl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdHealth() {
	body := mustGet("/api/health")
	fmt.Println(string(body))
}

func cmdStatus() {
	body := mustGet("/api/status")
	var st api.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		fmt.Println(prettyJSON(body))
		return
	}

	fmt.Printf("Team:          %s\n", st.Reconciler.TeamID)
	fmt.Printf("Uptime:        %s\n", st.Uptime)
	fmt.Printf("Empty streak:  %d/%d\n", st.Reconciler.EmptyStreak, st.Reconciler.Threshold)
	fmt.Printf("Polls:         %d run, %d skipped, %d failed\n", st.Scheduler.Runs, st.Scheduler.Skipped, st.Scheduler.Failures)
	if st.Scheduler.Running {
		fmt.Println("Running:       yes")
	}
	if !st.Scheduler.Next.IsZero() {
		fmt.Printf("Next poll:     %s\n", st.Scheduler.Next.Local().Format(time.DateTime))
	}
	if st.Scheduler.LastError != "" {
		fmt.Printf("Last error:    %s\n", st.Scheduler.LastError)
	}
	if p := st.Reconciler.LastPoll; p != nil {
		fmt.Println()
		fmt.Println("Last poll:")
		fmt.Println(pollLine(p))
	}
}

func cmdPolls(args []string) {
	fs := flag.NewFlagSet("polls", flag.ExitOnError)
	limit := fs.IntP("limit", "n", 20, "Max polls to list")
	notable := fs.Bool("notable", false, "Only polls that changed something or failed")
	since := fs.String("since", "", "Only polls since (RFC 3339, unix millis or a duration like 24h)")
	fs.Parse(args)

	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	if *notable {
		q.Set("notable", "true")
	}
	if *since != "" {
		q.Set("since", *since)
	}

	body := mustGet("/api/polls?" + q.Encode())
	var list api.PollList
	if err := json.Unmarshal(body, &list); err != nil {
		fmt.Println(prettyJSON(body))
		return
	}
	for _, p := range list.Polls {
		fmt.Println(pollLine(p))
	}
	if len(list.Polls) < list.Total {
		fmt.Printf("(%d of %d)\n", len(list.Polls), list.Total)
	}
}

func cmdPoll(id string) {
	body := mustGet("/api/polls/" + url.PathEscape(id))
	var p protocol.PollReport
	if err := json.Unmarshal(body, &p); err != nil {
		fmt.Println(prettyJSON(body))
		return
	}
	fmt.Println(pollLine(&p))
	for _, a := range p.Actions {
		fmt.Printf("  %-12s %-9s %-18s %s\n", orDash(a.Ticket), orDash(string(a.Kind)), a.Op, a.Detail)
	}
}

func cmdActions(ticket string, args []string) {
	fs := flag.NewFlagSet("actions", flag.ExitOnError)
	limit := fs.IntP("limit", "n", 50, "Max actions to list")
	fs.Parse(args)

	body := mustGet(fmt.Sprintf("/api/tickets/%s/actions?limit=%d", url.PathEscape(ticket), *limit))
	var actions []journal.TicketAction
	if err := json.Unmarshal(body, &actions); err != nil {
		fmt.Println(prettyJSON(body))
		return
	}
	if len(actions) == 0 {
		fmt.Printf("no recorded actions for %s\n", ticket)
		return
	}
	for _, a := range actions {
		fmt.Printf("%s  %s  %-18s %s\n", a.At.Local().Format(time.DateTime), shortID(a.PollID), a.Op, a.Detail)
	}
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	ticket := fs.String("ticket", "", "Only entries about this ticket")
	poll := fs.String("poll", "", "Only entries from this poll (id prefix)")
	level := fs.String("level", "", "Minimum level: debug, info, warn, error")
	limit := fs.IntP("limit", "n", 100, "Max entries")
	since := fs.String("since", "", "Only entries since (RFC 3339, unix millis or a duration like 1h)")
	asJSON := fs.Bool("json", false, "Print raw JSON")
	fs.Parse(args)

	q := url.Values{}
	q.Set("limit", strconv.Itoa(*limit))
	for k, v := range map[string]string{"ticket": *ticket, "poll": *poll, "level": *level, "since": *since} {
		if v != "" {
			q.Set(k, v)
		}
	}

	body := mustGet("/api/logs?" + q.Encode())
	if *asJSON {
		fmt.Println(prettyJSON(body))
		return
	}
	var entries []logbuf.Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		fmt.Println(prettyJSON(body))
		return
	}
	for _, e := range entries {
		fmt.Println(logLine(e))
	}
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Formatting ---

func pollLine(p *protocol.PollReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %3d tickets", shortID(p.ID), p.StartedAt.Local().Format(time.DateTime), p.Tickets)

	created := p.Count(protocol.OpPartCreated) + p.Count(protocol.OpBoxTubeCreated) + p.Count(protocol.OpDraftFinalized)
	deleted := p.Count(protocol.OpPartDeleted) + p.Count(protocol.OpBoxTubeDeleted) + p.Count(protocol.OpCategoryDeleted)
	if len(p.Actions) > 0 {
		fmt.Fprintf(&b, "  +%d -%d  %d failed", created, deleted, p.Count(protocol.OpFailed))
	}
	switch {
	case p.Aborted != "":
		fmt.Fprintf(&b, "  ABORTED: %s", p.Aborted)
	case p.Wiped:
		b.WriteString("  WIPED")
	case p.EmptyStreak > 0:
		fmt.Fprintf(&b, "  empty #%d", p.EmptyStreak)
	}
	return b.String()
}

func logLine(e logbuf.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", e.Time.Local().Format("15:04:05.000"), e.Level, e.Message)
	for _, k := range []string{"ticket", "kind", "error"} {
		if v, ok := e.Attrs[k]; ok {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// --- Helpers ---

func mustGet(path string) []byte {
	body, err := apiGet(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return body
}

func apiGet(path string) ([]byte, error) {
	base := strings.TrimRight(envOr("FABSYNC_API_URL", "http://localhost:8080"), "/")

	req, err := http.NewRequest("GET", base+path, nil)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("FABSYNC_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("fabsyncctl - fabsync operator CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                 Check daemon health")
	fmt.Println("  status                 Reconciler and scheduler status")
	fmt.Println("  polls                  List recent polls (--notable, --limit, --since)")
	fmt.Println("  poll <id>              Show one poll and its actions")
	fmt.Println("  actions <ticket>       What polls did to a ticket")
	fmt.Println("  logs                   Recent daemon logs (--ticket, --poll, --level, --since)")
	fmt.Println("  config validate <p>    Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  FABSYNC_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  FABSYNC_API_KEY   API key for authentication")
}
