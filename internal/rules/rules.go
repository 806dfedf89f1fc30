// Package rules implements the post-scan rule engine: YAML rule files
// are loaded once, precompiled, and then applied to every finding to
// override severity and attach MITRE ATT&CK technique metadata (§4.X).
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
)

const (
	maxRules            = 1000
	maxConditionsPerRule = 25
	maxRegexLength       = 512
	supportedVersion     = 1
)

// State is the rule engine's load lifecycle (§4.X).
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateError
)

// rawCondition mirrors a condition as written in YAML.
type rawCondition struct {
	Field    string `yaml:"field"`
	Contains string `yaml:"contains"`
	Equals   string `yaml:"equals"`
	Regex    string `yaml:"regex"`
}

// rawRule mirrors a rule as written in YAML.
type rawRule struct {
	ID                string       `yaml:"id"`
	Scope             string       `yaml:"scope"`
	LogicAny          bool         `yaml:"logic_any"`
	Conditions        []rawCondition `yaml:"conditions"`
	SeverityOverride  string       `yaml:"severity_override"`
	Mitre             []string     `yaml:"mitre"`
	Version           int          `yaml:"version"`
}

type ruleFile struct {
	Rules []rawRule `yaml:"rules"`
}

// Condition is a precompiled rule condition.
type Condition struct {
	Field    string
	Contains string
	Equals   string
	Regex    *regexp.Regexp
}

// Rule is a precompiled rule ready for apply.
type Rule struct {
	ID               string
	Scope            string
	LogicAny         bool
	Conditions       []Condition
	SeverityOverride model.Severity
	HasOverride      bool
	Mitre            []string
}

// Engine holds the loaded, precompiled rule set.
type Engine struct {
	state State
	rules []Rule
}

// NewEngine returns an empty, not-yet-loaded engine.
func NewEngine() *Engine {
	return &Engine{state: StateEmpty}
}

func (e *Engine) State() State { return e.state }

// LoadDir scans path for rule files (*.yaml, *.yml), precompiling and
// validating each rule. Returns accumulated warnings; never returns an
// error — a missing directory or a rule-level problem becomes a
// warning and the engine ends in StateReady (with whatever rules
// survived) or StateError if the directory itself could not be read.
func (e *Engine) LoadDir(path string, allowLegacy bool) []model.Warning {
	e.state = StateLoading
	var warnings []model.Warning

	entries, err := os.ReadDir(path)
	if err != nil {
		e.state = StateError
		warnings = append(warnings, model.Warning{
			Scanner: model.GlobalScanner,
			Code:    model.RulesDirMissing,
			Detail:  path + ": " + err.Error(),
		})
		return warnings
	}

	var loaded []Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		if len(loaded) >= maxRules {
			break
		}

		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			continue
		}
		var rf ruleFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			continue
		}

		for _, raw := range rf.Rules {
			if len(loaded) >= maxRules {
				break
			}
			rule, warns, ok := compileRule(raw, allowLegacy)
			warnings = append(warnings, warns...)
			if ok {
				loaded = append(loaded, rule)
			}
		}
	}

	e.rules = loaded
	e.state = StateReady
	return warnings
}

func compileRule(raw rawRule, allowLegacy bool) (Rule, []model.Warning, bool) {
	var warnings []model.Warning

	if raw.Version != supportedVersion && !allowLegacy {
		warnings = append(warnings, model.Warning{
			Scanner: model.GlobalScanner,
			Code:    model.UnknownWarning,
			Detail:  fmt.Sprintf("rule %q: unsupported version %d", raw.ID, raw.Version),
		})
		return Rule{}, warnings, false
	}
	if len(raw.Conditions) == 0 {
		warnings = append(warnings, model.Warning{
			Scanner: model.GlobalScanner,
			Code:    model.NoConditions,
			Detail:  fmt.Sprintf("rule %q has no conditions", raw.ID),
		})
		return Rule{}, warnings, false
	}

	conditions := raw.Conditions
	if len(conditions) > maxConditionsPerRule {
		conditions = conditions[:maxConditionsPerRule]
	}

	rule := Rule{
		ID:       raw.ID,
		Scope:    raw.Scope,
		LogicAny: raw.LogicAny,
		Mitre:    raw.Mitre,
	}
	if rule.Scope == "" {
		rule.Scope = "*"
	}
	if raw.SeverityOverride != "" {
		rule.SeverityOverride = model.SeverityFromString(raw.SeverityOverride)
		rule.HasOverride = true
	}

	for _, rc := range conditions {
		field := rc.Field
		if field == "" {
			field = "description"
		}
		cond := Condition{Field: field, Contains: rc.Contains, Equals: rc.Equals}
		if rc.Regex != "" {
			if len(rc.Regex) > maxRegexLength {
				warnings = append(warnings, model.Warning{
					Scanner: model.GlobalScanner,
					Code:    model.BadRegex,
					Detail:  fmt.Sprintf("rule %q: regex exceeds %d chars", raw.ID, maxRegexLength),
				})
				return Rule{}, warnings, false
			}
			re, err := regexp.Compile(rc.Regex)
			if err != nil {
				warnings = append(warnings, model.Warning{
					Scanner: model.GlobalScanner,
					Code:    model.BadRegex,
					Detail:  fmt.Sprintf("rule %q: %v", raw.ID, err),
				})
				return Rule{}, warnings, false
			}
			cond.Regex = re
		}
		rule.Conditions = append(rule.Conditions, cond)
	}

	return rule, warnings, true
}

// Apply evaluates every loaded rule scoped to scanner against f,
// mutating severity_override and mitre_techniques metadata in place on
// a match. Rules never remove findings. A no-op when the engine isn't
// ready.
func (e *Engine) Apply(scanner string, f *model.Finding) {
	if e.state != StateReady {
		return
	}
	for _, rule := range e.rules {
		if rule.Scope != "*" && rule.Scope != scanner {
			continue
		}
		if !evaluate(rule, f) {
			continue
		}
		if rule.HasOverride {
			f.Severity = rule.SeverityOverride
			f.BaseSeverityScore = rule.SeverityOverride.BaseScore()
		}
		if len(rule.Mitre) > 0 {
			existing, _ := f.Metadata.Get("mitre_techniques")
			merged := mergeMitre(existing, rule.Mitre)
			f.Metadata.Set("mitre_techniques", merged)
		}
	}
}

func evaluate(rule Rule, f *model.Finding) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	matchCount := 0
	for _, c := range rule.Conditions {
		if matchCondition(c, f) {
			matchCount++
			if rule.LogicAny {
				return true
			}
		} else if !rule.LogicAny {
			return false
		}
	}
	if rule.LogicAny {
		return matchCount > 0
	}
	return matchCount == len(rule.Conditions)
}

func matchCondition(c Condition, f *model.Finding) bool {
	value := fieldValue(c.Field, f)
	switch {
	case c.Regex != nil:
		return c.Regex.MatchString(value)
	case c.Equals != "":
		return value == c.Equals
	case c.Contains != "":
		return strings.Contains(value, c.Contains)
	default:
		return false
	}
}

func fieldValue(field string, f *model.Finding) string {
	switch field {
	case "id":
		return f.ID
	case "title":
		return f.Title
	case "description":
		return f.Description
	default:
		v, _ := f.Metadata.Get(field)
		return v
	}
}

func mergeMitre(existing string, add []string) string {
	set := map[string]bool{}
	var ordered []string
	for _, v := range strings.Split(existing, ",") {
		v = strings.TrimSpace(v)
		if v != "" && !set[v] {
			set[v] = true
			ordered = append(ordered, v)
		}
	}
	for _, v := range add {
		if v != "" && !set[v] {
			set[v] = true
			ordered = append(ordered, v)
		}
	}
	return strings.Join(ordered, ",")
}
