package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/marketyard/internal/config"
	"github.com/zulandar/marketyard/internal/db"
	"github.com/zulandar/marketyard/internal/session"
	"github.com/zulandar/marketyard/internal/stock"
	"gorm.io/gorm"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "mkt dev") {
		t.Errorf("expected output to contain 'mkt dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "mkt 1.0.0") || !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Marketyard") {
		t.Errorf("expected help output to contain 'Marketyard', got: %s", out)
	}
	for _, sub := range []string{"session", "participation", "stock", "commission", "grower", "serve", "db"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q subcommand", sub)
		}
	}
}

func TestSubcommandFlags(t *testing.T) {
	tests := []struct {
		path []string
		flag string
	}{
		{[]string{"session", "create"}, "date"},
		{[]string{"session", "list"}, "status"},
		{[]string{"participation", "confirm"}, "product"},
		{[]string{"stock", "resolve"}, "admin"},
		{[]string{"commission", "record"}, "rate"},
		{[]string{"commission", "close"}, "yes"},
		{[]string{"grower", "set-rate"}, "clear"},
		{[]string{"serve"}, "no-trigger"},
	}
	root := newRootCmd()
	for _, tt := range tests {
		name := strings.Join(tt.path, " ")
		t.Run(name, func(t *testing.T) {
			cmd, _, err := root.Find(tt.path)
			if err != nil {
				t.Fatalf("find %s: %v", name, err)
			}
			if cmd.Flags().Lookup(tt.flag) == nil {
				t.Errorf("%s: missing --%s flag", name, tt.flag)
			}
			if cmd.Flags().Lookup("config") == nil {
				t.Errorf("%s: missing --config flag", name)
			}
		})
	}
}

func TestParseProductLines(t *testing.T) {
	lines, err := parseProductLines([]string{"p1:5:2.50", "p2:0:10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 || lines[0].ProductID != "p1" || lines[0].Quantity != 5 || lines[0].Price.String() != "2.5" {
		t.Errorf("lines = %+v", lines)
	}

	for _, bad := range []string{"p1", "p1:x:1", "p1:1:abc", ":1:1"} {
		if _, err := parseProductLines([]string{bad}); err == nil {
			t.Errorf("parseProductLines(%q): expected error", bad)
		}
	}
}

func TestConfirm(t *testing.T) {
	orig := stdinIsTerminal
	defer func() { stdinIsTerminal = orig }()

	stdinIsTerminal = func() bool { return false }
	if _, err := confirm(strings.NewReader("y\n"), new(bytes.Buffer), "ok?"); err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("non-terminal confirm error = %v, want --yes hint", err)
	}

	stdinIsTerminal = func() bool { return true }
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		out := new(bytes.Buffer)
		got, err := confirm(strings.NewReader(tt.input), out, "Close?")
		if err != nil {
			t.Fatalf("confirm(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Close? [y/N]") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

// writeConfig writes a SQLite-backed config into a temp dir and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`database:
  driver: sqlite
  name: %s
market:
  name: Test Market
  recurring_day: 6
  commission_rate: 10
growers:
  - id: g1
    name: Alice
    commission_rate: 15
  - id: g2
    name: Bob
products:
  - id: p1
    grower_id: g1
    name: Apples
    stock: 40
    price: 2.5
`, filepath.Join(dir, "m.db"))
	path := filepath.Join(dir, "marketyard.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("mkt %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func openConfigDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	return gormDB
}

func TestEndToEnd_SessionLifecycle(t *testing.T) {
	orig := stdinIsTerminal
	stdinIsTerminal = func() bool { return false }
	defer func() { stdinIsTerminal = orig }()

	cfgPath := writeConfig(t)

	out := mustRun(t, "db", "init", "-c", cfgPath)
	if !strings.Contains(out, "Seeded 2 growers and 1 products") {
		t.Errorf("db init output = %q", out)
	}

	out = mustRun(t, "session", "ensure", "-c", cfgPath)
	if !strings.Contains(out, "Created session") {
		t.Errorf("first ensure output = %q", out)
	}
	out = mustRun(t, "session", "ensure", "-c", cfgPath)
	if !strings.Contains(out, "Exists session") {
		t.Errorf("second ensure output = %q", out)
	}

	mustRun(t, "session", "create", "-c", cfgPath, "--date", "2030-01-05", "--rate", "10")
	gormDB := openConfigDB(t, cfgPath)
	sessions, err := session.List(gormDB, session.ListFilters{From: "2030-01-05", To: "2030-01-05"})
	if err != nil || len(sessions) != 1 {
		t.Fatalf("List = %v, %v; want one manual session", sessions, err)
	}
	id := sessions[0].ID

	mustRun(t, "participation", "confirm", "-c", cfgPath, "--session", id, "--grower", "g1", "--product", "p1:5:2.50")
	mustRun(t, "participation", "set", "-c", cfgPath, "--session", id, "--grower", "g2", "--status", "confirmed")

	out = mustRun(t, "participation", "unseen", "-c", cfgPath)
	if !strings.Contains(out, "Unseen confirmations: 2") {
		t.Errorf("unseen output = %q", out)
	}
	mustRun(t, "participation", "viewed", "-c", cfgPath, id)

	mustRun(t, "session", "activate", "-c", cfgPath, id)
	out = mustRun(t, "session", "show", "-c", cfgPath, id)
	if !strings.Contains(out, "ACTIVE") || !strings.Contains(out, "g2") {
		t.Errorf("show output = %q", out)
	}

	out = mustRun(t, "commission", "record", "-c", cfgPath, "--session", id, "--grower", "g1", "--turnover", "200")
	if !strings.Contains(out, "commission 30.00 at 15.00%") {
		t.Errorf("record output = %q", out)
	}

	out, err = run(t, "commission", "close", "-c", cfgPath, id)
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("close without --yes: err = %v", err)
	}
	if !strings.Contains(out, "NEEDS_CONFIRMATION") {
		t.Errorf("preview output = %q", out)
	}

	out = mustRun(t, "commission", "close", "-c", cfgPath, id, "--yes")
	if !strings.Contains(out, "1 validated, 1 declined") {
		t.Errorf("close output = %q", out)
	}

	out = mustRun(t, "commission", "summary", "-c", cfgPath, id)
	if !strings.Contains(out, "COMPLETED") || !strings.Contains(out, "Total commission: 30.00") {
		t.Errorf("summary output = %q", out)
	}

	if _, err := run(t, "commission", "record", "-c", cfgPath, "--session", id, "--grower", "g1", "--turnover", "50"); err == nil {
		t.Error("recording turnover on a completed session should fail")
	}
}

func TestEndToEnd_StockAndGrowers(t *testing.T) {
	cfgPath := writeConfig(t)
	mustRun(t, "db", "init", "-c", cfgPath)

	mustRun(t, "stock", "submit", "-c", cfgPath, "--grower", "g1", "--product", "p1", "--stock", "12", "--price", "3.10")
	out := mustRun(t, "stock", "pending", "-c", cfgPath, "--grouped")
	if !strings.Contains(out, "g1") {
		t.Errorf("grouped output = %q", out)
	}

	gormDB := openConfigDB(t, cfgPath)
	reqs, err := stock.ListPending(gormDB, "g1")
	if err != nil || len(reqs) != 1 {
		t.Fatalf("ListPending = %v, %v", reqs, err)
	}

	if _, err := run(t, "stock", "resolve", "-c", cfgPath, "--admin", "a1", reqs[0].ID); err == nil {
		t.Error("resolve without a decision should fail")
	}
	out = mustRun(t, "stock", "resolve", "-c", cfgPath, "--admin", "a1", "--approve", reqs[0].ID)
	if !strings.Contains(out, "Resolved 1 of 1") {
		t.Errorf("resolve output = %q", out)
	}
	out = mustRun(t, "stock", "pending", "-c", cfgPath)
	if !strings.Contains(out, "No pending requests.") {
		t.Errorf("pending after resolve = %q", out)
	}

	mustRun(t, "grower", "set-rate", "-c", cfgPath, "g2", "--rate", "5")
	mustRun(t, "grower", "set-rate", "-c", cfgPath, "g1", "--clear")
	out = mustRun(t, "grower", "list", "-c", cfgPath)
	if !strings.Contains(out, "5.00%") || !strings.Contains(out, "session") {
		t.Errorf("grower list = %q", out)
	}
	if _, err := run(t, "grower", "set-rate", "-c", cfgPath, "ghost", "--rate", "5"); err == nil {
		t.Error("set-rate on unknown grower should fail")
	}
}
