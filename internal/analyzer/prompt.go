package analyzer

import (
	"strings"
	"time"
)

const promptHeader = `/no_think
/role: You annotate customer-service calls for a Taiwanese food company.
/task: Analyze the conversation below and output the result as JSON.

Rules:
1. Write all values in Traditional Chinese.
2. Keep feedback_summary within 200 characters.
3. Output exactly one JSON object and nothing else.

JSON format:
{
  "product_name": "product name(s), several allowed; write 無 if none",
  "evaluation_tendency": "正面/負面/中立",
  "feedback_category": "conversation category",
  "feedback_summary": "summary of the conversation (200 characters max)",
  "detailed_content": "key details"
}

`

const retryHeader = `/no_think
You analyze customer-service conversations. Output JSON only:
{
  "product_name": "product name or 無",
  "evaluation_tendency": "正面/負面/中立",
  "feedback_category": "category",
  "feedback_summary": "summary (200 characters max)"
}

`

// BuildPrompt assembles the full prompt used on the streaming path.
// products and categories are newline-joined candidate lists and may be empty.
func BuildPrompt(transcript, products, categories string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	if p := strings.TrimSpace(products); p != "" {
		b.WriteString("Candidate products:\n")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	if c := strings.TrimSpace(categories); c != "" {
		b.WriteString("Candidate categories:\n")
		b.WriteString(c)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nJSON result:")
	return b.String()
}

// BuildRetryPrompt is the shortened prompt for the non-streaming retry path.
// Only the first maxChars characters of the transcript are kept.
func BuildRetryPrompt(transcript string, maxChars int) string {
	return retryHeader + "Conversation: " + truncateRunes(transcript, maxChars) + "...\n\nJSON:"
}

// Timeout scales the read timeout with transcript length: base seconds plus
// one minute per thousand characters, capped at maxSecs.
func Timeout(chars int, base, maxSecs float64) time.Duration {
	secs := min(base+float64(chars)/1000*60, maxSecs)
	return time.Duration(int(secs)) * time.Second
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
