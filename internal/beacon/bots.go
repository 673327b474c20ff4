package beacon

import "strings"

// BotDetector filters crawler traffic out of engagement counting. Bots
// still receive the pixel; they just never count as an open.
type BotDetector struct {
	botPatterns []string
}

// NewBotDetector creates a detector with the stock crawler patterns.
func NewBotDetector() *BotDetector {
	return &BotDetector{
		botPatterns: []string{
			"bot", "crawler", "spider", "slurp", "googlebot", "bingbot",
			"yahoo", "baidu", "yandex", "preview", "proxy", "scanner",
		},
	}
}

// IsBot checks if the user agent belongs to a known crawler.
func (bd *BotDetector) IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, pattern := range bd.botPatterns {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
