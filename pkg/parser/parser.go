// Package parser extracts structured role output from an agent's prose
// response. Agents are asked to emit one fenced ```json block; parsing is
// deliberately tolerant since the contract with an LLM-driven agent is
// best-effort, not guaranteed: prefer the last fenced block, fall back to a
// balanced-brace scan keyed on a role-specific sentinel field, validate
// required fields, and drop malformed items rather than fail the whole
// parse.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
)

var fencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// extractLastJSONBlock returns the contents of the last ```json fenced
// block in text, or "" if there is none.
func extractLastJSONBlock(text string) string {
	matches := fencedJSONBlock.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// extractBalancedObject scans text for the first balanced {...} object
// whose decoded keys include sentinel. Used when no fenced block is
// present or the fenced block failed to decode.
func extractBalancedObject(text, sentinel string) string {
	depth := 0
	start := -1
	for i, r := range text {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := text[start : i+1]
					if strings.Contains(candidate, `"`+sentinel+`"`) {
						return candidate
					}
					start = -1
				}
			}
		}
	}
	return ""
}

// rawObject locates the best-candidate JSON object in text for the given
// sentinel key, trying the fenced block first.
func rawObject(text, sentinel string) (map[string]any, bool) {
	if block := extractLastJSONBlock(text); block != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(block), &m); err == nil {
			if _, ok := m[sentinel]; ok {
				return m, true
			}
		}
	}
	if obj := extractBalancedObject(text, sentinel); obj != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(obj), &m); err == nil {
			return m, true
		}
	}
	return nil, false
}

// --- PM ---

// Subtask is one PM-proposed unit of work.
type Subtask struct {
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	AcceptanceCriteria  []string `json:"acceptance_criteria"`
	EstimatedComplexity string   `json:"estimated_complexity"`
	DependsOn           []int    `json:"depends_on"`
}

// PMPlan is the parsed output of a PM-role agent.
type PMPlan struct {
	Analysis string    `json:"analysis"`
	Subtasks []Subtask `json:"subtasks"`
}

// ParsePM parses a PM agent's plan. Subtasks missing a title or
// description are dropped; depends_on indices that point at or beyond
// the subtask's own index are dropped (not the whole subtask) since only
// backward references to earlier subtasks in the same plan are valid.
func ParsePM(text string) (*PMPlan, bool) {
	obj, ok := rawObject(text, "subtasks")
	if !ok {
		return nil, false
	}
	body, _ := json.Marshal(obj)
	var raw struct {
		Analysis string `json:"analysis"`
		Subtasks []struct {
			Title               string   `json:"title"`
			Description         string   `json:"description"`
			AcceptanceCriteria  []string `json:"acceptance_criteria"`
			EstimatedComplexity string   `json:"estimated_complexity"`
			DependsOn           []int    `json:"depends_on"`
		} `json:"subtasks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false
	}

	plan := &PMPlan{Analysis: raw.Analysis}
	for i, s := range raw.Subtasks {
		if strings.TrimSpace(s.Title) == "" || strings.TrimSpace(s.Description) == "" {
			continue
		}
		var deps []int
		for _, d := range s.DependsOn {
			if d >= 0 && d < i {
				deps = append(deps, d)
			}
		}
		plan.Subtasks = append(plan.Subtasks, Subtask{
			Title:               s.Title,
			Description:         s.Description,
			AcceptanceCriteria:  s.AcceptanceCriteria,
			EstimatedComplexity: s.EstimatedComplexity,
			DependsOn:           deps,
		})
	}
	if len(plan.Subtasks) == 0 {
		return nil, false
	}
	return plan, true
}

// --- Architect ---

// ArchitectDesign is the parsed output of an Architect-role agent.
type ArchitectDesign struct {
	Decisions       []string  `json:"decisions"`
	Interfaces      []string  `json:"interfaces"`
	Concerns        []string  `json:"concerns"`
	DesignNotes     string    `json:"design_notes"`
	RefinedSubtasks []Subtask `json:"refined_subtasks"`
}

// ParseArchitect parses an Architect agent's design notes.
func ParseArchitect(text string) (*ArchitectDesign, bool) {
	obj, ok := rawObject(text, "decisions")
	if !ok {
		return nil, false
	}
	body, _ := json.Marshal(obj)
	var d ArchitectDesign
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, false
	}
	return &d, true
}

// Appendix renders the design as a Markdown "Architecture Guidance"
// appendix suitable for appending to a subtask description.
func (d *ArchitectDesign) Appendix() string {
	var b strings.Builder
	b.WriteString("\n\n## Architecture Guidance\n")
	if len(d.Decisions) > 0 {
		b.WriteString("\nDecisions:\n")
		for _, dec := range d.Decisions {
			b.WriteString("- " + dec + "\n")
		}
	}
	if len(d.Interfaces) > 0 {
		b.WriteString("\nInterfaces:\n")
		for _, i := range d.Interfaces {
			b.WriteString("- " + i + "\n")
		}
	}
	if len(d.Concerns) > 0 {
		b.WriteString("\nConcerns:\n")
		for _, c := range d.Concerns {
			b.WriteString("- " + c + "\n")
		}
	}
	if d.DesignNotes != "" {
		b.WriteString("\n" + d.DesignNotes + "\n")
	}
	return b.String()
}

// ArchitectureGuidanceMarker is searched for to make appending the
// appendix idempotent.
const ArchitectureGuidanceMarker = "## Architecture Guidance"

// --- Reviewer ---

// Finding is one reviewer-flagged issue.
type Finding struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	File        string `json:"file"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// ReviewResult is the parsed output of a Reviewer-role agent.
type ReviewResult struct {
	Verdict           string    `json:"verdict"`
	Summary           string    `json:"summary"`
	Findings          []Finding `json:"findings"`
	SecurityConcerns  []string  `json:"security_concerns"`
}

// ParseReviewer parses a Reviewer agent's output. Requires verdict to be
// "approve" or "reject"; anything else fails the parse.
func ParseReviewer(text string) (*ReviewResult, bool) {
	obj, ok := rawObject(text, "verdict")
	if !ok {
		return nil, false
	}
	body, _ := json.Marshal(obj)
	var r ReviewResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, false
	}
	if r.Verdict != "approve" && r.Verdict != "reject" {
		return nil, false
	}
	return &r, true
}

// Approved reports whether the review passed.
func (r *ReviewResult) Approved() bool { return r.Verdict == "approve" }

// --- QA ---

// TestResult is one executed test's outcome.
type TestResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Output string `json:"output"`
}

// QAResult is the parsed output of a QA-role agent.
type QAResult struct {
	Verdict         string       `json:"verdict"`
	Summary         string       `json:"summary"`
	TestsWritten    []string     `json:"tests_written"`
	TestResults     []TestResult `json:"test_results"`
	FailureDetails  string       `json:"failure_details"`
}

// ParseQA parses a QA agent's output. Requires verdict to be "pass" or
// "fail".
func ParseQA(text string) (*QAResult, bool) {
	obj, ok := rawObject(text, "verdict")
	if !ok {
		return nil, false
	}
	body, _ := json.Marshal(obj)
	var q QAResult
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, false
	}
	if q.Verdict != "pass" && q.Verdict != "fail" {
		return nil, false
	}
	return &q, true
}

// Passed reports whether QA accepted the change.
func (q *QAResult) Passed() bool { return q.Verdict == "pass" }

// --- PM acceptance ---

// PMAcceptance is the parsed output of a PM-acceptance pass over a
// finished campaign.
type PMAcceptance struct {
	Verdict         string   `json:"verdict"`
	CriteriaResults []string `json:"criteria_results"`
	Feedback        string   `json:"feedback"`
}

// ParsePMAcceptance parses PM-acceptance output. Requires verdict to be
// "accept" or "reject".
func ParsePMAcceptance(text string) (*PMAcceptance, bool) {
	obj, ok := rawObject(text, "verdict")
	if !ok {
		return nil, false
	}
	body, _ := json.Marshal(obj)
	var a PMAcceptance
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, false
	}
	if a.Verdict != "accept" && a.Verdict != "reject" {
		return nil, false
	}
	return &a, true
}

// Accepted reports whether the campaign was accepted.
func (a *PMAcceptance) Accepted() bool { return a.Verdict == "accept" }

// --- Docs ---

// DocsResult is the parsed output of a Docs-role agent.
type DocsResult struct {
	FilesUpdated []string `json:"files_updated"`
	Summary      string   `json:"summary"`
}

// ParseDocs parses a Docs agent's output.
func ParseDocs(text string) (*DocsResult, bool) {
	obj, ok := rawObject(text, "files_updated")
	if !ok {
		return nil, false
	}
	body, _ := json.Marshal(obj)
	var d DocsResult
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, false
	}
	return &d, true
}

// Schemas exposes invopop/jsonschema-generated schemas for every parsed
// shape. No HTTP route serves them, and the Parse* functions do not
// validate against them.
func Schemas() map[string]*jsonschema.Schema {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	return map[string]*jsonschema.Schema{
		"pm":            reflector.Reflect(&PMPlan{}),
		"architect":     reflector.Reflect(&ArchitectDesign{}),
		"reviewer":      reflector.Reflect(&ReviewResult{}),
		"qa":            reflector.Reflect(&QAResult{}),
		"pm_acceptance": reflector.Reflect(&PMAcceptance{}),
		"docs":          reflector.Reflect(&DocsResult{}),
	}
}
