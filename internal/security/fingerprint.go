package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DeviceDescriptor is the coarse parse of a User-Agent used for fingerprinting
// and bot heuristics. Exact UA versions are deliberately excluded so routine
// browser updates do not look like hijacks.
type DeviceDescriptor struct {
	Browser string
	OS      string
	IsBot   bool
}

var botMarkers = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget", "python-requests",
	"python-urllib", "go-http-client", "java/", "okhttp", "headless",
}

func ParseUserAgent(ua string) DeviceDescriptor {
	lower := strings.ToLower(ua)

	d := DeviceDescriptor{Browser: "unknown", OS: "unknown"}
	for _, marker := range botMarkers {
		if strings.Contains(lower, marker) {
			d.IsBot = true
			break
		}
	}
	if strings.TrimSpace(ua) == "" {
		d.IsBot = true
	}

	switch {
	case strings.Contains(lower, "edg/"):
		d.Browser = "edge"
	case strings.Contains(lower, "opr/") || strings.Contains(lower, "opera"):
		d.Browser = "opera"
	case strings.Contains(lower, "chrome"):
		d.Browser = "chrome"
	case strings.Contains(lower, "safari"):
		d.Browser = "safari"
	case strings.Contains(lower, "firefox"):
		d.Browser = "firefox"
	}

	switch {
	case strings.Contains(lower, "windows"):
		d.OS = "windows"
	case strings.Contains(lower, "android"):
		d.OS = "android"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") || strings.Contains(lower, "ios"):
		d.OS = "ios"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macintosh"):
		d.OS = "macos"
	case strings.Contains(lower, "linux"):
		d.OS = "linux"
	}
	return d
}

// Fingerprint hashes the stable device signals with the network origin.
func Fingerprint(ua, ip string) string {
	d := ParseUserAgent(ua)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", d.Browser, d.OS, ip)))
	return hex.EncodeToString(sum[:])
}
