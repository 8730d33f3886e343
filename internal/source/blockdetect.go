package source

import "strings"

// BlockType describes the kind of anti-bot page the search engine served.
type BlockType string

const (
	BlockNone      BlockType = ""
	BlockCaptcha   BlockType = "captcha"
	BlockChallenge BlockType = "challenge"
	BlockJSShell   BlockType = "js_shell"
)

// DetectBlock inspects a rendered results page for challenge or captcha
// interstitials. It reports BlockNone for ordinary pages, including empty
// result lists.
func DetectBlock(doc string) BlockType {
	lower := strings.ToLower(doc)

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") ||
		strings.Contains(lower, "unusual traffic") {
		return BlockChallenge
	}

	if strings.Contains(lower, "captcha") {
		return BlockCaptcha
	}

	// JS-only shell: very small document with noscript or meta refresh.
	if len(doc) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return BlockJSShell
		}
		if strings.Contains(lower, `http-equiv="refresh"`) {
			return BlockJSShell
		}
	}

	return BlockNone
}
