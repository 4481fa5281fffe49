package validate

import "strings"

// Format renders validation errors as corrective feedback for the LLM: one
// line per error in the shape "<field> - <message>", in validation order.
func Format(errs Errors) string {
	lines := make([]string, len(errs))
	for i, e := range errs {
		if e.Field == "" {
			lines[i] = e.Message
			continue
		}
		lines[i] = e.Field + " - " + e.Message
	}
	return strings.Join(lines, "\n")
}
