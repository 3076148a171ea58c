package jira

import "strings"

// textToADF wraps plain text into a minimal Atlassian Document Format
// document. Each line becomes a paragraph; blank lines become empty
// paragraphs so spacing survives the round trip.
func textToADF(text string) map[string]any {
	paragraphs := strings.Split(text, "\n")
	content := make([]any, 0, len(paragraphs))
	for _, para := range paragraphs {
		if para == "" {
			content = append(content, map[string]any{
				"type":    "paragraph",
				"content": []any{},
			})
			continue
		}
		content = append(content, map[string]any{
			"type": "paragraph",
			"content": []any{
				map[string]any{
					"type": "text",
					"text": para,
				},
			},
		})
	}

	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": content,
	}
}
