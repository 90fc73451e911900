package fetcher

import (
	"bytes"
	"net/http"
)

// BlockType describes the kind of anti-bot wall detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// smallPage is the body size below which captcha and noscript markers are
// taken to mean the whole page is a challenge. Larger university pages
// often embed a reCAPTCHA in a contact form.
const smallPage = 4096

// DetectBlock inspects a response for signs of anti-bot protection.
func DetectBlock(resp *http.Response, body []byte) BlockType {
	if resp == nil {
		return BlockNone
	}

	challengeStatus := resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable
	if challengeStatus {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-mitigated") != "" ||
			resp.Header.Get("server") == "cloudflare" {
			return BlockCloudflare
		}
	}

	lower := bytes.ToLower(body)
	if bytes.Contains(lower, []byte("checking your browser")) ||
		bytes.Contains(lower, []byte("cf-browser-verification")) ||
		bytes.Contains(lower, []byte("cf-challenge")) {
		return BlockCloudflare
	}

	if challengeStatus || len(body) < smallPage {
		if bytes.Contains(lower, []byte("captcha")) {
			return BlockCaptcha
		}
	}

	if len(body) < smallPage/2 {
		if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
			return BlockJSShell
		}
	}

	return BlockNone
}
