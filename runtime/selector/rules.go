package selector

import "regexp"

// keywordPatterns maps query intents to keyword regexes. Queries arrive in
// Vietnamese or English so both forms are matched.
var keywordPatterns = map[string][]*regexp.Regexp{
	"energy_kpi": {
		regexp.MustCompile(`(?i)(năng lượng|điện|energy|power).*\b(miền|region|khu vực)`),
		regexp.MustCompile(`(?i)(công suất|capacity|generation)`),
		regexp.MustCompile(`(?i)(sản lượng|output|production)`),
	},
	"comparison": {
		regexp.MustCompile(`(?i)(so sánh|compare|khác biệt|difference)`),
		regexp.MustCompile(`(?i)(bắc.*nam|nam.*bắc|north.*south|south.*north)`),
	},
	"aggregation": {
		regexp.MustCompile(`(?i)(tổng|total|sum|aggregate)`),
		regexp.MustCompile(`(?i)(trung bình|average|mean)`),
		regexp.MustCompile(`(?i)(cao nhất|thấp nhất|max|min|highest|lowest)`),
	},
	"time_based": {
		regexp.MustCompile(`(?i)(hôm nay|today|hiện tại|current)`),
		regexp.MustCompile(`(?i)(hôm qua|yesterday|ngày hôm qua)`),
		regexp.MustCompile(`(?i)(tuần|week|tháng|month|năm|year)`),
	},
}

// matchPatterns scores the query against each intent's patterns and returns
// the best score with its category. A category's score is the matched
// fraction of its patterns, capped at 1.0, with a 0.2 bonus when two or more
// patterns match.
func matchPatterns(query string) (float64, string) {
	bestScore := 0.0
	bestCategory := "unknown"

	for category, patterns := range keywordPatterns {
		matches := 0
		for _, p := range patterns {
			if p.MatchString(query) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		score := float64(matches) / float64(len(patterns))
		if score > 1.0 {
			score = 1.0
		}
		if matches >= 2 {
			score += 0.2
			if score > 1.0 {
				score = 1.0
			}
		}
		if score > bestScore {
			bestScore = score
			bestCategory = category
		}
	}
	return bestScore, bestCategory
}
