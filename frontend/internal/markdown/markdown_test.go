package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	r := New()

	tests := []struct {
		name        string
		input       string
		contains    []string
		notContains []string
	}{
		{
			name:     "empty",
			input:    "   \n",
			contains: nil,
		},
		{
			name:     "emphasis and lists",
			input:    "**Findings**\n\n- no mass effect\n- normal ventricles",
			contains: []string{"<strong>Findings</strong>", "<li>no mass effect</li>", "<ul>"},
		},
		{
			name:     "table",
			input:    "| Region | Volume |\n|---|---|\n| Left | 12 |",
			contains: []string{"<table>", "<td>Left</td>"},
		},
		{
			name:        "raw html is not passed through",
			input:       "hello <script>alert(1)</script> <b onclick=\"x()\">bold</b>",
			contains:    []string{"hello"},
			notContains: []string{"<script", "onclick", "alert(1)</script>"},
		},
		{
			name:        "javascript links are removed",
			input:       "[click](javascript:alert(1))",
			notContains: []string{"javascript:"},
		},
		{
			name:     "external links open in a new tab",
			input:    "See https://example.org/paper",
			contains: []string{`href="https://example.org/paper"`, `target="_blank"`, `nofollow`},
		},
		{
			name:     "fenced code keeps language class",
			input:    "```json\n{\"a\": 1}\n```",
			contains: []string{`<code class="language-json">`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(r.Render(tt.input))
			if tt.contains == nil && tt.notContains == nil {
				assert.Empty(t, got)
			}
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			for _, unwanted := range tt.notContains {
				assert.NotContains(t, got, unwanted)
			}
		})
	}
}
