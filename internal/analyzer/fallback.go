package analyzer

import (
	"context"
	"strings"
)

const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"

	CategoryReturn   = "return/exchange inquiry"
	CategoryOrder    = "order inquiry"
	CategoryIssue    = "issue feedback"
	CategoryGeneral  = "general inquiry"
	fallbackSummary  = "Automatic keyword analysis completed; the full conversation is retained. Manual review is recommended."
	fallbackDetail   = "full transcript retained"
	defaultSummary   = "pending analysis"
	defaultNoProduct = "無"
)

var (
	positiveWords = []string{"謝謝", "很好", "滿意", "不錯", "喜歡", "棒", "讚", "優秀", "thank", "great", "satisfied", "excellent"}
	negativeWords = []string{"問題", "投訴", "退貨", "不滿", "差", "爛", "失望", "糟糕", "complain", "refund", "disappointed", "terrible"}

	productKeywords = []struct {
		name     string
		keywords []string
	}{
		{"水餃", []string{"水餃", "餃子", "dumpling"}},
		{"包子", []string{"包子", "饅頭", "steamed bun"}},
		{"湯圓", []string{"湯圓", "元宵"}},
		{"餛飩", []string{"餛飩", "雲吞", "wonton"}},
		{"燒賣", []string{"燒賣", "燒麥", "shumai"}},
	}

	categoryRules = []struct {
		category string
		terms    []string
	}{
		{CategoryReturn, []string{"退", "換", "賠", "return", "exchange"}},
		{CategoryOrder, []string{"買", "訂", "購", "order", "purchase"}},
		{CategoryIssue, []string{"問題", "投訴", "complain", "problem"}},
	}
)

// Fallback is the keyword strategy used when the model cannot be reached or
// returns nothing usable. It is pure and never fails.
type Fallback struct{}

func (Fallback) Analyze(_ context.Context, req Request) Result {
	return Success(Heuristic(req.Transcript), SourceFallback)
}

// Heuristic classifies text from fixed lexicons.
func Heuristic(text string) Analysis {
	lower := strings.ToLower(text)

	pos := countPresent(lower, positiveWords)
	neg := countPresent(lower, negativeWords)
	sentiment := SentimentNeutral
	switch {
	case pos > neg*2:
		sentiment = SentimentPositive
	case neg > pos*2:
		sentiment = SentimentNegative
	}

	products := Values{}
	for _, p := range productKeywords {
		if containsAny(lower, p.keywords) {
			products = append(products, p.name)
		}
	}

	category := CategoryGeneral
	for _, rule := range categoryRules {
		if containsAny(lower, rule.terms) {
			category = rule.category
			break
		}
	}

	return Analysis{
		ProductNames: products,
		Sentiment:    sentiment,
		Category:     Values{category},
		Summary:      fallbackSummary,
		Detail:       fallbackDetail,
	}
}

// countPresent counts how many lexicon words appear at least once.
func countPresent(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
