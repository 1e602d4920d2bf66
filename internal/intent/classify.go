// Package intent classifies a question by the kind of reply it calls for.
package intent

import "strings"

type Intent string

const (
	Complaint Intent = "complaint"
	Request   Intent = "request"
	Inquiry   Intent = "inquiry"
	General   Intent = "general"
)

// rules are checked in order; the first intent with a matching keyword wins.
var rules = []struct {
	intent   Intent
	keywords []string
}{
	{Complaint, []string{"complaint", "problem", "issue", "wrong", "error", "bug", "broken"}},
	{Request, []string{"please", "can you", "could you", "help me", "how to", "need"}},
	{Inquiry, []string{"what", "how", "when", "where", "why", "tell me"}},
}

// Classify matches query against keyword lists, case-insensitively and as
// substrings. A query matching no list is General.
func Classify(query string) Intent {
	q := strings.ToLower(query)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(q, kw) {
				return r.intent
			}
		}
	}
	return General
}
