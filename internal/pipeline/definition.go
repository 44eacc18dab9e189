package pipeline

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/starford/mcodex/internal/apperr"
)

// Step kinds.
const (
	KindPandoc  = "pandoc"
	KindVlna    = "vlna"
	KindLatexmk = "latexmk"
)

// DefaultEngine is the LaTeX engine forced on latexmk when a step names none.
const DefaultEngine = "lualatex"

// DefaultPandocOutput is the intermediate file of a pandoc step that does not
// produce a final document.
const DefaultPandocOutput = "body_raw.tex"

// Spec is the loosely typed YAML form of a pipeline, as stored in the
// repository configuration. Parse turns it into a Definition.
type Spec struct {
	Steps []map[string]any `yaml:"steps"`
}

// Step is one transformation in a pipeline.
type Step interface {
	Kind() string
}

// PandocStep converts between document formats.
type PandocStep struct {
	From   string
	To     string
	Output string
}

func (PandocStep) Kind() string { return KindPandoc }

// Final reports whether the step writes the build artifact directly.
func (s PandocStep) Final() bool { return s.To == "pdf" || s.To == "docx" }

// OutputName returns the intermediate filename for non-final targets.
func (s PandocStep) OutputName() string {
	if s.Output != "" {
		return s.Output
	}
	return DefaultPandocOutput
}

// VlnaStep inserts non-breaking spaces after Czech single-letter words.
type VlnaStep struct {
	Input  string
	Output string
}

func (VlnaStep) Kind() string { return KindVlna }

// LatexmkStep typesets the prior intermediate into a PDF.
type LatexmkStep struct {
	Engine string
	Main   string
}

func (LatexmkStep) Kind() string { return KindLatexmk }

// EngineName returns the configured engine or DefaultEngine.
func (s LatexmkStep) EngineName() string {
	if s.Engine != "" {
		return s.Engine
	}
	return DefaultEngine
}

// Definition is a validated pipeline.
type Definition struct {
	Name  string
	Steps []Step
}

// OutputExt returns the artifact extension produced by the last step.
func (d Definition) OutputExt() string {
	if len(d.Steps) == 0 {
		return "pdf"
	}
	if p, ok := d.Steps[len(d.Steps)-1].(PandocStep); ok {
		switch p.To {
		case "docx":
			return "docx"
		case "latex":
			return "tex"
		case "pdf":
			return "pdf"
		default:
			return p.To
		}
	}
	return "pdf"
}

var stepFields = map[string]struct {
	required []string
	optional []string
}{
	KindPandoc:  {required: []string{"from", "to"}, optional: []string{"output"}},
	KindVlna:    {required: []string{"input", "output"}},
	KindLatexmk: {required: []string{"main"}, optional: []string{"engine"}},
}

// Validate checks every pipeline in specs and returns the typed definitions.
// Nothing is returned unless all of them are valid.
func Validate(specs map[string]Spec) (map[string]Definition, error) {
	if len(specs) == 0 {
		return nil, &apperr.PipelineConfigError{Step: -1, Reason: "pipelines must be a non-empty mapping"}
	}
	out := make(map[string]Definition, len(specs))
	for _, name := range Names(specs) {
		def, err := Parse(name, specs[name])
		if err != nil {
			return nil, err
		}
		out[name] = def
	}
	return out, nil
}

// Parse validates a single pipeline spec.
func Parse(name string, spec Spec) (Definition, error) {
	if strings.TrimSpace(name) == "" {
		return Definition{}, &apperr.PipelineConfigError{Step: -1, Reason: "pipeline names must be non-empty"}
	}
	if len(spec.Steps) == 0 {
		return Definition{}, &apperr.PipelineConfigError{Pipeline: name, Step: -1, Reason: "must have non-empty steps"}
	}
	def := Definition{Name: name, Steps: make([]Step, 0, len(spec.Steps))}
	for i, raw := range spec.Steps {
		step, err := parseStep(name, i, raw)
		if err != nil {
			return Definition{}, err
		}
		def.Steps = append(def.Steps, step)
	}
	return def, nil
}

func parseStep(pipeline string, i int, raw map[string]any) (Step, error) {
	fail := func(format string, args ...any) error {
		return &apperr.PipelineConfigError{Pipeline: pipeline, Step: i, Reason: fmt.Sprintf(format, args...)}
	}

	kind, err := stringField(raw, "kind")
	if err != nil || kind == "" {
		return nil, fail("missing kind")
	}
	fields, ok := stepFields[kind]
	if !ok {
		return nil, fail("unknown kind: %s", kind)
	}

	allowed := map[string]bool{"kind": true}
	values := map[string]string{}
	for _, f := range fields.required {
		allowed[f] = true
		v, err := stringField(raw, f)
		if err != nil || v == "" {
			return nil, fail("missing '%s'", f)
		}
		values[f] = v
	}
	for _, f := range fields.optional {
		allowed[f] = true
		if _, present := raw[f]; !present || raw[f] == nil {
			continue
		}
		v, err := stringField(raw, f)
		if err != nil || v == "" {
			return nil, fail("invalid '%s'", f)
		}
		values[f] = v
	}
	for key := range raw {
		if !allowed[key] {
			return nil, fail("unknown field '%s' for kind %s", key, kind)
		}
	}

	switch kind {
	case KindPandoc:
		if out := values["output"]; out != "" && !isPlainName(out) {
			return nil, fail("'output' must be a file name")
		}
		return PandocStep{From: values["from"], To: values["to"], Output: values["output"]}, nil
	case KindVlna:
		if !isPlainName(values["input"]) || !isPlainName(values["output"]) {
			return nil, fail("'input' and 'output' must be file names")
		}
		return VlnaStep{Input: values["input"], Output: values["output"]}, nil
	default:
		if !isPlainName(values["main"]) {
			return nil, fail("'main' must be a file name")
		}
		return LatexmkStep{Engine: values["engine"], Main: values["main"]}, nil
	}
}

func stringField(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

// isPlainName rejects names that would leave the scratch workspace.
func isPlainName(name string) bool {
	return name != "." && name != ".." && !strings.ContainsAny(name, `/\`) && path.Base(name) == name
}

// Names returns the sorted pipeline names of specs.
func Names(specs map[string]Spec) []string {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the built-in pipelines used outside a repository.
func Defaults() map[string]Spec {
	return map[string]Spec{
		"pdf": {Steps: []map[string]any{
			{"kind": KindPandoc, "from": "markdown", "to": "latex", "output": DefaultPandocOutput},
			{"kind": KindVlna, "input": DefaultPandocOutput, "output": "body.tex"},
			{"kind": KindLatexmk, "engine": DefaultEngine, "main": "main.tex"},
		}},
		"pdf_pandoc": {Steps: []map[string]any{
			{"kind": KindPandoc, "from": "markdown", "to": "pdf"},
		}},
		"docx": {Steps: []map[string]any{
			{"kind": KindPandoc, "from": "markdown", "to": "docx"},
		}},
		"latex": {Steps: []map[string]any{
			{"kind": KindPandoc, "from": "markdown", "to": "latex"},
		}},
	}
}

// Describe renders a step for pipeline listings.
func Describe(s Step) string {
	switch s := s.(type) {
	case PandocStep:
		out := ""
		if s.Output != "" {
			out = " output=" + s.Output
		}
		return fmt.Sprintf("pandoc %s -> %s%s", s.From, s.To, out)
	case VlnaStep:
		return fmt.Sprintf("vlna %s -> %s", s.Input, s.Output)
	case LatexmkStep:
		engine := ""
		if s.Engine != "" {
			engine = " engine=" + s.Engine
		}
		return fmt.Sprintf("latexmk%s main=%s", engine, s.Main)
	default:
		return s.Kind()
	}
}
