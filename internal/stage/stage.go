// Package stage defines the editorial stage progression and snapshot label syntax.
package stage

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/mcodex/internal/apperr"
)

// Stages in progression order.
var stages = []string{"draft", "preview", "rc", "final", "published"}

var (
	stageLabelRe  = regexp.MustCompile(`^([a-z]+)-([0-9]+)$`)
	customLabelRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// All returns a copy of the stage progression.
func All() []string {
	return append([]string(nil), stages...)
}

// From returns the stages from index i onward.
func From(i int) []string {
	if i < 0 {
		i = 0
	}
	if i >= len(stages) {
		return []string{}
	}
	return append([]string(nil), stages[i:]...)
}

// Name returns the stage at index i.
func Name(i int) string {
	return stages[i]
}

// Index returns the position of name in the progression.
func Index(name string) (int, error) {
	if i, ok := lookup(name); ok {
		return i, nil
	}
	return -1, &apperr.UnknownStageError{Stage: name, Allowed: All()}
}

// IsStage reports whether name is one of the fixed stages.
func IsStage(name string) bool {
	_, ok := lookup(name)
	return ok
}

func lookup(name string) (int, bool) {
	for i, s := range stages {
		if s == name {
			return i, true
		}
	}
	return -1, false
}

// Label is a parsed snapshot label. Stage is empty for custom labels.
type Label struct {
	Raw    string
	Stage  string
	Number int
}

// IsCustom reports whether the label is free-form.
func (l Label) IsCustom() bool { return l.Stage == "" }

// StageIndex returns the stage index, or len(stages) for custom labels so
// they order after every stage.
func (l Label) StageIndex() int {
	if l.IsCustom() {
		return len(stages)
	}
	i, _ := lookup(l.Stage)
	return i
}

func (l Label) String() string { return l.Raw }

// Format builds the stage-numbered label "<stage>-<n>".
func Format(stageName string, n int) string {
	return stageName + "-" + strconv.Itoa(n)
}

// ParseLabel parses text as a "<stage>-<number>" label with a known stage,
// falling back to the custom label syntax.
func ParseLabel(text string) (Label, error) {
	raw := strings.TrimSpace(text)
	if l, ok := parseStageLabel(raw); ok {
		return l, nil
	}
	if customLabelRe.MatchString(raw) {
		return Label{Raw: raw}, nil
	}
	return Label{}, &apperr.InvalidLabelError{Label: text}
}

// ParseStageLabel accepts only "<stage>-<number>" labels with a known stage.
func ParseStageLabel(text string) (Label, bool) {
	return parseStageLabel(text)
}

func parseStageLabel(raw string) (Label, bool) {
	m := stageLabelRe.FindStringSubmatch(raw)
	if m == nil || !IsStage(m[1]) {
		return Label{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return Label{}, false
	}
	return Label{Raw: raw, Stage: m[1], Number: n}, true
}
