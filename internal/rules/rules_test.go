package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
)

func writeRuleFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDirMissingDirectory(t *testing.T) {
	e := NewEngine()
	warnings := e.LoadDir(filepath.Join(t.TempDir(), "nope"), false)
	if e.State() != StateError {
		t.Fatalf("expected StateError, got %v", e.State())
	}
	if len(warnings) != 1 || warnings[0].Code != model.RulesDirMissing {
		t.Fatalf("expected one rules_dir_missing warning, got %+v", warnings)
	}
}

func TestLoadDirValidRuleAppliesOverride(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "r1.yaml", `
rules:
  - id: suspicious-shell
    scope: process
    version: 1
    conditions:
      - field: title
        contains: shell
    severity_override: critical
    mitre: ["T1059"]
`)

	e := NewEngine()
	warnings := e.LoadDir(dir, false)
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	if e.State() != StateReady {
		t.Fatalf("expected StateReady, got %v", e.State())
	}

	f := model.NewFinding("proc:1", "reverse shell spawned", model.Low, "a shell process")
	e.Apply("process", &f)

	if f.Severity != model.Critical {
		t.Errorf("severity not overridden: got %v", f.Severity)
	}
	mitre, _ := f.Metadata.Get("mitre_techniques")
	if mitre != "T1059" {
		t.Errorf("expected mitre_techniques T1059, got %q", mitre)
	}
}

func TestLoadDirSkipsZeroConditionRule(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "r1.yaml", `
rules:
  - id: empty
    version: 1
    conditions: []
`)

	e := NewEngine()
	warnings := e.LoadDir(dir, false)
	if len(warnings) != 1 || warnings[0].Code != model.NoConditions {
		t.Fatalf("expected one no_conditions warning, got %+v", warnings)
	}
}

func TestLoadDirSkipsBadRegex(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "r1.yaml", `
rules:
  - id: bad
    version: 1
    conditions:
      - field: title
        regex: "(["
`)

	e := NewEngine()
	warnings := e.LoadDir(dir, false)
	if len(warnings) != 1 || warnings[0].Code != model.BadRegex {
		t.Fatalf("expected one bad_regex warning, got %+v", warnings)
	}
}

func TestLoadDirRejectsUnsupportedVersionUnlessLegacyAllowed(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "r1.yaml", `
rules:
  - id: old
    version: 2
    conditions:
      - field: title
        contains: x
`)

	e := NewEngine()
	warnings := e.LoadDir(dir, false)
	if len(warnings) != 1 {
		t.Fatalf("expected one warning rejecting unsupported version, got %+v", warnings)
	}

	e2 := NewEngine()
	warnings2 := e2.LoadDir(dir, true)
	if len(warnings2) != 0 {
		t.Fatalf("expected legacy rule to load with allowLegacy, got warnings %+v", warnings2)
	}
}

func TestApplyScopeMismatchNoOp(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "r1.yaml", `
rules:
  - id: network-only
    scope: network
    version: 1
    conditions:
      - field: title
        contains: listen
    severity_override: high
`)
	e := NewEngine()
	e.LoadDir(dir, false)

	f := model.NewFinding("proc:1", "port listening", model.Info, "")
	e.Apply("process", &f)
	if f.Severity != model.Info {
		t.Errorf("rule scoped to a different scanner should not apply, got %v", f.Severity)
	}
}
