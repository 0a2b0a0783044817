package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"deskmate/internal/adapter/gateway"
	"deskmate/internal/adapter/patternstore"
	"deskmate/internal/adapter/tui/chat"
	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
	"deskmate/internal/usecase/scheduling"
)

// cliSession groups the messages of one CLI invocation.
const cliSession = "cli"

func runServe(ctx context.Context, a *app, _ []string, _ io.Reader, _ io.Writer) error {
	if a.cfg.Scheduler.Enabled {
		sched, err := a.scheduler()
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if !a.cfg.Gateway.Enabled {
		a.log.Warn("gateway disabled; running scheduled maintenance only")
		<-ctx.Done()
		return nil
	}

	srv := gateway.NewServer(gateway.Deps{
		Orchestrator: a.orch,
		Learner:      a.learner,
		Store:        a.store,
		Bus:          a.bus,
		Model:        a.model,
		Logger:       a.log,
	}, a.cfg.Gateway)
	a.log.Info("deskmate serving",
		"addr", a.cfg.Gateway.Addr,
		"agents", len(a.orch.Agents()),
		"model", a.cfg.Model.Enabled,
		"store", a.cfg.Store.Backend,
	)
	return srv.Start(ctx)
}

// maintenance binds the store jobs to this app.
func (a *app) maintenance() *scheduling.Maintenance {
	return &scheduling.Maintenance{
		Store:     a.store,
		Sessions:  a.orch.Sessions(),
		BackupDir: a.cfg.BackupDir(),
		Keep:      a.cfg.Store.BackupKeep,
		Write:     patternstore.WriteSnapshotFile,
		Logger:    logger.Component(a.log, "maintenance"),
	}
}

func (a *app) scheduler() (*scheduling.Scheduler, error) {
	sched := scheduling.NewScheduler(logger.Component(a.log, "scheduler"))
	a.maintenance().Register(sched)
	for _, t := range a.cfg.Scheduler.Tasks {
		task := scheduling.ScheduledTask{Name: t.Name, Schedule: t.Schedule, Action: scheduling.ScheduledAction(t.Action)}
		if err := sched.AddTask(task); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// runRoute prints the decision for each argument, or for each stdin line
// when there are none. --json prints one decision object per line.
func runRoute(ctx context.Context, a *app, args []string, in io.Reader, out io.Writer) error {
	asJSON := false
	var msgs []string
	for _, arg := range args {
		if arg == "--json" {
			asJSON = true
			continue
		}
		msgs = append(msgs, arg)
	}

	route := func(msg string) error {
		d, err := a.orch.Route(ctx, domain.InboundMessage{SessionID: cliSession, Content: msg})
		if err != nil {
			return err
		}
		if asJSON {
			return json.NewEncoder(out).Encode(d)
		}
		printDecision(out, msg, d)
		return nil
	}

	if len(msgs) > 0 {
		for _, m := range msgs {
			if err := route(m); err != nil {
				return err
			}
		}
		return nil
	}

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := route(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

func printDecision(w io.Writer, msg string, d *domain.RoutingDecision) {
	fmt.Fprintf(w, "> %s\n", msg)
	fmt.Fprintf(w, "  agent: %s  intent: %s  confidence: %.2f  method: %s\n", d.AgentID, d.Intent, d.Confidence, d.Method)
	if len(d.Entities) > 0 {
		parts := make([]string, 0, len(d.Entities))
		for _, e := range d.Entities {
			parts = append(parts, e.Name+"="+e.Value)
		}
		fmt.Fprintf(w, "  entities: %s\n", strings.Join(parts, " "))
	}
	if d.Reason != "" {
		fmt.Fprintf(w, "  reason: %s\n", d.Reason)
	}
	if d.Response != "" {
		fmt.Fprintf(w, "  reply: %s\n", d.Response)
	}
}

// runChat opens the console on a terminal and falls back to a line loop
// when stdin is piped.
func runChat(ctx context.Context, a *app, _ []string, in io.Reader, out io.Writer) error {
	if isTerminal(in) {
		return chat.Run(ctx, chat.Deps{
			Router:    a.orch,
			Stats:     a.learner,
			ModelName: modelName(a),
			Logger:    a.log,
		})
	}

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		res, err := a.orch.Handle(ctx, domain.InboundMessage{SessionID: cliSession, Content: line})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		d := res.Decision
		fmt.Fprintf(out, "[%s/%s %.2f] %s\n", d.AgentID, d.Intent, d.Confidence, res.Result.Response)
	}
	return sc.Err()
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func modelName(a *app) string {
	if !a.cfg.Model.Enabled {
		return "rules only"
	}
	return a.cfg.Model.Model
}

func runExport(ctx context.Context, a *app, args []string, _ io.Reader, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: export <file>", errUsage)
	}
	snap, err := a.store.Export(ctx)
	if err != nil {
		return err
	}
	if args[0] == "-" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	if err := patternstore.WriteSnapshotFile(args[0], snap); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d patterns and %d interactions to %s\n", len(snap.Patterns), len(snap.Interactions), args[0])
	return nil
}

func runImport(ctx context.Context, a *app, args []string, _ io.Reader, out io.Writer) error {
	mode := domain.ImportReplace
	var files []string
	for _, arg := range args {
		if arg == "--merge" {
			mode = domain.ImportMerge
			continue
		}
		files = append(files, arg)
	}
	if len(files) != 1 {
		return fmt.Errorf("%w: import <file> [--merge]", errUsage)
	}

	snap, err := patternstore.ReadSnapshotFile(files[0])
	if err != nil {
		return err
	}
	if err := a.store.Import(ctx, snap, mode); err != nil {
		return err
	}
	st, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %s (%s): store now holds %d patterns\n", files[0], mode, st.TotalPatterns)
	return nil
}

func runStats(ctx context.Context, a *app, _ []string, _ io.Reader, out io.Writer) error {
	st, err := a.learner.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "patterns:     %d\n", st.TotalPatterns)
	fmt.Fprintf(out, "intents:      %d\n", st.TotalIntents)
	fmt.Fprintf(out, "interactions: %d\n", st.TotalInteractions)
	fmt.Fprintf(out, "success rate: %.1f%%\n", st.SuccessRate*100)
	if !st.LastUpdated.IsZero() {
		fmt.Fprintf(out, "last updated: %s\n", st.LastUpdated.Format("2006-01-02 15:04:05Z07:00"))
	}
	return nil
}

// runPatterns prints the best patterns of one intent, or of every intent
// when the first argument is missing or numeric.
func runPatterns(ctx context.Context, a *app, args []string, _ io.Reader, out io.Writer) error {
	if len(args) > 2 {
		return fmt.Errorf("%w: patterns [intent] [limit]", errUsage)
	}
	intent := ""
	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err != nil {
			intent, args = args[0], args[1:]
		}
	}
	limit := 10
	if len(args) == 1 {
		n, err := positiveInt(args[0])
		if err != nil {
			return err
		}
		limit = n
	} else if len(args) > 1 {
		return fmt.Errorf("%w: patterns [intent] [limit]", errUsage)
	}

	ps, err := a.learner.BestPatterns(ctx, intent, limit)
	if err != nil {
		return err
	}
	if len(ps) == 0 {
		if intent == "" {
			fmt.Fprintln(out, "no patterns learned yet")
		} else {
			fmt.Fprintf(out, "no patterns learned for %s\n", intent)
		}
		return nil
	}
	t := newTable("TEMPLATE", "AGENT", "INTENT", "SUCCESS", "USES", "CONFIDENCE")
	for _, p := range ps {
		t.Row(p.Template, p.AgentID, p.Intent,
			fmt.Sprintf("%.0f%%", p.SuccessRate()*100),
			strconv.Itoa(p.UsageCount),
			fmt.Sprintf("%.2f", p.Confidence))
	}
	fmt.Fprintln(out, t.String())
	return nil
}

func positiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errUsage)
	}
	return n, nil
}

func runIntents(ctx context.Context, a *app, _ []string, _ io.Reader, out io.Writer) error {
	intents, err := a.learner.Intents(ctx)
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		fmt.Fprintln(out, "no patterns learned yet")
		return nil
	}
	for _, intent := range intents {
		fmt.Fprintln(out, intent)
	}
	return nil
}

func runInteractions(ctx context.Context, a *app, args []string, _ io.Reader, out io.Writer) error {
	limit := 20
	switch len(args) {
	case 0:
	case 1:
		n, err := positiveInt(args[0])
		if err != nil {
			return err
		}
		limit = n
	default:
		return fmt.Errorf("%w: interactions [limit]", errUsage)
	}

	ins, err := a.learner.Interactions(ctx, limit)
	if err != nil {
		return err
	}
	if len(ins) == 0 {
		fmt.Fprintln(out, "no interactions recorded")
		return nil
	}
	t := newTable("TIME", "AGENT", "INTENT", "OK", "MESSAGE")
	for _, in := range ins {
		intent := in.Intent()
		if in.ResolvedIntent != "" && in.ResolvedIntent != in.DetectedIntent {
			intent = in.DetectedIntent + " -> " + in.ResolvedIntent
		}
		ok := "no"
		if in.Success {
			ok = "yes"
		}
		t.Row(in.Timestamp.Format("2006-01-02 15:04"), in.AgentID, intent, ok, in.Message)
	}
	fmt.Fprintln(out, t.String())
	return nil
}

// runAddPattern teaches a phrasing by hand:
// add-pattern <intent> <message...> [--agent ID]
func runAddPattern(ctx context.Context, a *app, args []string, _ io.Reader, out io.Writer) error {
	var agentID string
	var rest []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--agent" && i+1 < len(args):
			agentID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--agent="):
			agentID = strings.TrimPrefix(args[i], "--agent=")
		default:
			rest = append(rest, args[i])
		}
	}
	if len(rest) < 2 {
		return fmt.Errorf("%w: add-pattern <intent> <message> [--agent ID]", errUsage)
	}

	draft, err := a.orch.DraftPattern(agentID, rest[0], strings.Join(rest[1:], " "))
	if err != nil {
		return err
	}
	p, err := a.learner.AddPattern(ctx, draft)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "added %s: %q -> %s/%s\n", p.ID, p.Template, p.AgentID, p.Intent)
	return nil
}

func runAgents(_ context.Context, a *app, _ []string, _ io.Reader, out io.Writer) error {
	t := newTable("ID", "NAME", "PRIORITY", "INTENTS")
	for _, ag := range a.orch.Agents() {
		id := ag.ID
		if ag.Fallback {
			id += " *"
		}
		t.Row(id, ag.Name, strconv.Itoa(ag.Priority), strings.Join(ag.Intents, ", "))
	}
	fmt.Fprintln(out, t.String())
	fmt.Fprintln(out, "* fallback agent")
	return nil
}

func runBackup(ctx context.Context, a *app, _ []string, _ io.Reader, out io.Writer) error {
	path, err := a.maintenance().Backup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "backup written to %s\n", path)
	return nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
}
