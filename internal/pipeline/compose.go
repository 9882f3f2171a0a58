package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderRe matches {name} template placeholders.
var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// ComposeInstructions builds the concrete instructions for a task: the
// description template with pipeline-input placeholders substituted, followed
// by the declared upstream outputs as labeled context blocks. It is a pure
// function of its arguments: identical inputs and upstream results always
// produce byte-identical text. It never mutates the run.
func ComposeInstructions(task TaskSpec, inputs Inputs, run *Run) (string, error) {
	var b strings.Builder
	b.WriteString(substitute(task.Description, inputs))

	for _, dep := range task.Context {
		var tr TaskResult
		ok := false
		if run != nil {
			tr, ok = run.Result(dep)
		}
		if !ok || tr.Status != TaskSucceeded {
			return "", fmt.Errorf("task %q needs output of %q: %w", task.ID, dep, ErrMissingUpstream)
		}
		b.WriteString("\n\n--- context: output of task ")
		b.WriteString(dep)
		b.WriteString(" ---\n")
		b.WriteString(tr.Output)
	}

	return b.String(), nil
}

// substitute resolves {name} placeholders from inputs. Missing keys resolve
// to the empty string.
func substitute(tmpl string, inputs Inputs) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := inputs[name]
		if !ok {
			return ""
		}
		if s, isStr := v.(string); isStr {
			return s
		}
		return fmt.Sprintf("%v", v)
	})
}
