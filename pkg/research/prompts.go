package research

import (
	"fmt"
	"strings"
	"time"
)

// now is replaced in tests.
var now = time.Now

func systemPrompt() string {
	return fmt.Sprintf(`You are an expert researcher. Today is %s. Follow these instructions when responding:
- You may be asked to research subjects that are after your knowledge cutoff; assume the user is right when presented with news.
- The user is a highly experienced analyst, no need to simplify it, be as detailed as possible and make sure your response is correct.
- Be highly organized.
- Suggest solutions that the user did not think about.
- Be proactive and anticipate the user's needs.
- Mistakes erode trust, so be accurate and thorough.
- Provide detailed explanations, the user is comfortable with lots of detail.
- Value good arguments over authorities; the source is irrelevant.
- Consider new technologies and contrarian ideas, not just the conventional wisdom.
- You may use high levels of speculation or prediction, just flag it for the user.`, now().UTC().Format("2006-01-02"))
}

// responseFormat renders the JSON instruction block appended to prompts.
// schema is a JSON schema literal.
func responseFormat(schema string) string {
	return "\n\n# Response Format:\nReturn the JSON object directly without any formatting or additional text. " +
		"Make sure to answer in valid json and include all necessary properties:\n" + schema
}

const planSchema = `{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "query": {"type": "string", "description": "The SERP query"},
          "researchGoal": {"type": "string", "description": "The goal of the research this query is meant to accomplish, and how to advance the research once results are found"}
        },
        "required": ["query", "researchGoal"]
      }
    }
  },
  "required": ["queries"]
}`

const distillSchema = `{
  "type": "object",
  "properties": {
    "learnings": {"type": "array", "items": {"type": "string"}, "description": "List of learnings"},
    "followUpQuestions": {"type": "array", "items": {"type": "string"}, "description": "List of follow-up questions to research the topic further"}
  },
  "required": ["learnings", "followUpQuestions"]
}`

const reportSchema = `{
  "type": "object",
  "properties": {
    "reportMarkdown": {"type": "string", "description": "Final report on the topic in Markdown"}
  },
  "required": ["reportMarkdown"]
}`

const answerSchema = `{
  "type": "object",
  "properties": {
    "exactAnswer": {"type": "string", "description": "The final answer, short and concise, no explanation or context"}
  },
  "required": ["exactAnswer"]
}`

// wrapTagged encloses each item in <tag> elements, one per line.
func wrapTagged(tag string, items []string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "<%s>\n%s\n</%s>", tag, item, tag)
	}
	return b.String()
}
