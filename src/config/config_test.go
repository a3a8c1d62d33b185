package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mosaicnetworks/acol/src/peers"
	"github.com/sirupsen/logrus"
)

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()

	conf.SetDataDir("/tmp/acol")
	if conf.DatabaseDir != filepath.Join("/tmp/acol", DefaultBadgerFile) {
		t.Fatalf("DatabaseDir should follow DataDir, got %s", conf.DatabaseDir)
	}

	conf.DatabaseDir = "/var/db"
	conf.SetDataDir("/tmp/other")
	if conf.DatabaseDir != "/var/db" {
		t.Fatalf("an explicit DatabaseDir should be kept, got %s", conf.DatabaseDir)
	}
}

func TestTopologyFile(t *testing.T) {
	conf := NewTestConfig(t)

	if f := conf.TopologyFile(); f != "" {
		t.Fatalf("no topology file expected, got %s", f)
	}

	path := filepath.Join(conf.DataDir, DefaultTopologyFile)
	if err := os.WriteFile(path, []byte(""), 0600); err != nil {
		t.Fatal(err)
	}

	if f := conf.TopologyFile(); f != path {
		t.Fatalf("topology file should be %s, not %s", path, f)
	}

	conf.Topology = "/explicit.toml"
	if f := conf.TopologyFile(); f != "/explicit.toml" {
		t.Fatalf("explicit topology should win, got %s", f)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"bogus": logrus.DebugLevel,
	}

	for s, l := range cases {
		if LogLevel(s) != l {
			t.Fatalf("LogLevel(%s) should be %v", s, l)
		}
	}
}

func TestLoggerFileHook(t *testing.T) {
	conf := NewDefaultConfig()
	conf.LogLevel = "info"
	conf.LogDir = filepath.Join(t.TempDir(), "logs")

	logger := conf.Logger()
	if logger.Level != logrus.InfoLevel {
		t.Fatalf("level should be info, not %v", logger.Level)
	}

	logger.Out = new(strings.Builder)
	logger.WithField("prefix", "test").Info("hello file")

	data, err := os.ReadFile(filepath.Join(conf.LogDir, DefaultInfoLogFile))
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("info log should contain the entry, got %q", string(data))
	}
}

func TestAlgorithms(t *testing.T) {
	cases := []struct {
		name   string
		status string
	}{
		{"FLaMAS", "READY_FLAMAS"},
		{"col", "READY_COL"},
		{"ACoL", "READY_ACOL"},
		{"ACOAL", "READY_ACOAL"},
	}

	for _, c := range cases {
		a, err := ParseAlgorithm(c.name)
		if err != nil {
			t.Fatal(err)
		}
		if a.Status() != c.status {
			t.Fatalf("status of %s should be %s, not %s", c.name, c.status, a.Status())
		}
	}

	if _, err := ParseAlgorithm("gossip"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Fatalf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestDefaultTopology(t *testing.T) {
	topo := DefaultTopology(3, "test")

	if err := topo.Validate(); err != nil {
		t.Fatal(err)
	}

	expectedIDs := []peers.JID{"fen_ag0@test", "fen_ag1@test", "fen_ag2@test"}
	if !reflect.DeepEqual(topo.IDs(), expectedIDs) {
		t.Fatalf("IDs should be %v, not %v", expectedIDs, topo.IDs())
	}

	if topo.LauncherID() != "fen_launcher@test" {
		t.Fatalf("unexpected launcher %s", topo.LauncherID())
	}

	ns, ok := topo.NeighbourSet("fen_ag1@test")
	if !ok {
		t.Fatalf("fen_ag1@test should be part of the topology")
	}

	if !ns.StarterNeighbours.Equal(peers.NewSet("fen_ag0@test", "fen_ag2@test")) {
		t.Fatalf("unexpected neighbours %v", ns.StarterNeighbours.Slice())
	}

	if !ns.IsObserver("fen_launcher@test") {
		t.Fatalf("the launcher should be an observer")
	}

	if _, ok := topo.NeighbourSet("nobody@test"); ok {
		t.Fatalf("nobody@test should not be part of the topology")
	}
}

const ringTopology = `
launcher = "boss@lab"

[[agent]]
jid = "a@lab"
neighbours = ["b@lab"]

[[agent]]
jid = "b@lab"
neighbours = ["c@lab"]

[[agent]]
jid = "c@lab"
neighbours = ["a@lab"]
observers = []
`

func TestParseTopology(t *testing.T) {
	topo, err := ParseTopology(ringTopology, "ignored")
	if err != nil {
		t.Fatal(err)
	}

	if topo.LauncherID() != "boss@lab" {
		t.Fatalf("launcher should be boss@lab, not %s", topo.LauncherID())
	}

	ns, _ := topo.NeighbourSet("a@lab")
	if !reflect.DeepEqual(ns.StarterNeighbours.Slice(), []peers.JID{"b@lab"}) {
		t.Fatalf("a@lab should only know b@lab, got %v", ns.StarterNeighbours.Slice())
	}
	if !ns.IsObserver("boss@lab") {
		t.Fatalf("omitted observers should default to the launcher")
	}

	ns, _ = topo.NeighbourSet("c@lab")
	if ns.Observers.Len() != 0 {
		t.Fatalf("c@lab should have no observers, got %v", ns.Observers.Slice())
	}
}

func TestParseTopologyDefaultLauncher(t *testing.T) {
	topo, err := ParseTopology(`
[[agent]]
jid = "a@lab"
`, "lab")
	if err != nil {
		t.Fatal(err)
	}

	if topo.LauncherID() != "fen_launcher@lab" {
		t.Fatalf("default launcher should be fen_launcher@lab, not %s", topo.LauncherID())
	}
}

func TestLoadTopology(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultTopologyFile)
	if err := os.WriteFile(path, []byte(ringTopology), 0600); err != nil {
		t.Fatal(err)
	}

	topo, err := LoadTopology(path, "lab")
	if err != nil {
		t.Fatal(err)
	}

	if len(topo.Agents) != 3 {
		t.Fatalf("3 agents expected, got %d", len(topo.Agents))
	}
}

func TestParseTopologyErrors(t *testing.T) {
	cases := map[string]string{
		"no agents": `launcher = "boss@lab"`,
		"duplicate": `
[[agent]]
jid = "a@lab"
[[agent]]
jid = "a@lab"
`,
		"self neighbour": `
[[agent]]
jid = "a@lab"
neighbours = ["a@lab"]
`,
		"unknown neighbour": `
[[agent]]
jid = "a@lab"
neighbours = ["z@lab"]
`,
		"bad jid": `
[[agent]]
jid = "nodomain"
`,
		"launcher as agent": `
launcher = "a@lab"
[[agent]]
jid = "a@lab"
`,
		"unknown key": `
[[agent]]
jid = "a@lab"
friends = ["b@lab"]
`,
	}

	for name, data := range cases {
		if _, err := ParseTopology(data, "lab"); !errors.Is(err, ErrInvalidTopology) {
			t.Fatalf("%s: expected ErrInvalidTopology, got %v", name, err)
		}
	}
}
