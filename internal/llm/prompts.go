package llm

import "fmt"

const summarizeTemplate = `Summarize the key facts, figures, names, dates, and events from the following text for a claims report. Be concise and factual.

**Text to Summarize:**
%s

**Concise Summary:**`

const generateTemplate = `You are an expert claims adjuster. Rewrite the following Word document template, filling it in with information from the **Context** provided.

Your final output must be **only the full, completed text of the report**. The structure and length should match the original template. Do not add extra headers, commentary or conversational text.

---
**Context:**
%s

---
**Word Document Template:**
%s`

// SummarizePrompt asks for a short factual digest of one chunk.
func SummarizePrompt(chunk string) string {
	return fmt.Sprintf(summarizeTemplate, chunk)
}

// GeneratePrompt asks for the template rewritten with the context filled in.
func GeneratePrompt(context, template string) string {
	return fmt.Sprintf(generateTemplate, context, template)
}
