package gate

import "testing"

func TestStripMarkdown(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "just some words", "just some words"},
		{"heading", "# Deploy status", "Deploy status"},
		{"emphasis", "this is **very** important, *really*", "this is very important, really"},
		{"link", "see the [runbook](https://example.com/runbook) first", "see the runbook first"},
		{"inline code", "run `kubectl get pods` to check", "run kubectl get pods to check"},
		{
			"fenced code block",
			"before\n\n```\nmake deploy\n```\n\nafter",
			"before make deploy after",
		},
		{"list", "- one\n- two\n- three", "one two three"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := stripMarkdown(tc.in)
			if got != tc.want {
				t.Fatalf("stripMarkdown(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestStripMarkdownIsIdempotentOnPlainText(t *testing.T) {
	in := "no markdown here, just a question? and more words."
	if got := stripMarkdown(in); got != in {
		t.Fatalf("stripMarkdown(%q) = %q, want unchanged", in, got)
	}
}
