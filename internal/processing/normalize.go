package processing

import (
	"strings"

	"callsense/internal/analyzer"
	"callsense/internal/model"
)

var productSeparators = strings.NewReplacer("、", ",", "，", ",", ";", ",", "；", ",", "/", ",")

var placeholders = map[string]bool{"無": true, "无": true, "none": true, "n/a": true, "null": true}

// SplitProducts flattens the model's product field into distinct names,
// dropping placeholder tokens.
func SplitProducts(values analyzer.Values) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, v := range values {
		for _, p := range strings.Split(productSeparators.Replace(v), ",") {
			p = strings.TrimSpace(p)
			if p == "" || placeholders[strings.ToLower(p)] || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

var sentiments = map[string]model.Sentiment{
	"正面":       model.SentimentPositive,
	"positive": model.SentimentPositive,
	"負面":       model.SentimentNegative,
	"负面":       model.SentimentNegative,
	"negative": model.SentimentNegative,
	"中立":       model.SentimentNeutral,
	"中性":       model.SentimentNeutral,
	"neutral":  model.SentimentNeutral,
}

// MapSentiment maps the model's tendency label to a Sentiment; unknown labels are neutral.
func MapSentiment(raw string) model.Sentiment {
	if s, ok := sentiments[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return model.SentimentNeutral
}

// Normalize turns an analyzer answer into the persisted record for jobID.
func Normalize(jobID string, a analyzer.Analysis, src analyzer.Source) model.Analysis {
	return model.Analysis{
		JobID:        jobID,
		ProductNames: SplitProducts(a.ProductNames),
		Sentiment:    MapSentiment(a.Sentiment),
		Category:     a.Category.Join(", "),
		Summary:      strings.TrimSpace(a.Summary),
		Detail:       strings.TrimSpace(a.Detail),
		Source:       string(src),
	}
}
