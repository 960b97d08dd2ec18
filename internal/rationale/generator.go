// Package rationale asks a generative model for a one-paragraph explanation of
// a match. It is optional: callers treat every failure as "no rationale".
package rationale

import (
	"context"
	"fmt"
	"strings"
)

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Prompt builds the rationale request from the query and the extracted evidence.
func Prompt(query string, sharedTerms, sentences []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A search for %q matched a document.\n", query)
	if len(sharedTerms) > 0 {
		fmt.Fprintf(&b, "Shared keywords: %s.\n", strings.Join(sharedTerms, ", "))
	}
	if len(sentences) > 0 {
		b.WriteString("Most relevant passages:\n")
		for _, s := range sentences {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString("In at most two sentences, explain why this document is relevant to the search. " +
		"Only use the evidence above.")
	return b.String()
}
