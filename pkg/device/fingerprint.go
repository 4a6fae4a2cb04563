package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// FingerprintData contains the components used to generate a device fingerprint
type FingerprintData struct {
	UserAgent     string
	IP            string
	ClientEntropy string // optional client-provided entropy (e.g. localStorage token)
}

// GenerateFingerprint creates a stable identifier for a device: a SHA-256
// hash of the normalized user-agent family and the coarse network block of
// the IP (/24 for IPv4, /48 for IPv6), plus optional client entropy. Using
// the network block instead of the exact address keeps the fingerprint
// stable across DHCP churn within the same network.
func GenerateFingerprint(data FingerprintData) string {
	combined := fmt.Sprintf("%s|%s|%s",
		userAgentFamily(data.UserAgent),
		networkBlock(data.IP),
		data.ClientEntropy,
	)
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// ExtractFingerprintDataFromRequest extracts fingerprint data from an HTTP request
func ExtractFingerprintDataFromRequest(r *http.Request, clientIP string) FingerprintData {
	return FingerprintData{
		UserAgent:     r.UserAgent(),
		IP:            clientIP,
		ClientEntropy: r.Header.Get("X-Device-Entropy"),
	}
}

// userAgentFamily reduces a raw User-Agent to a coarse browser/OS family so
// that minor version upgrades do not change the fingerprint.
func userAgentFamily(userAgent string) string {
	ua := strings.ToLower(userAgent)

	browser := "other"
	switch {
	case strings.Contains(ua, "edg/"):
		browser = "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		browser = "opera"
	case strings.Contains(ua, "chrome/"):
		browser = "chrome"
	case strings.Contains(ua, "firefox/"):
		browser = "firefox"
	case strings.Contains(ua, "safari/"):
		browser = "safari"
	}

	os := "other"
	switch {
	case strings.Contains(ua, "android"):
		os = "android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad"):
		os = "ios"
	case strings.Contains(ua, "windows"):
		os = "windows"
	case strings.Contains(ua, "mac os x") || strings.Contains(ua, "macintosh"):
		os = "macos"
	case strings.Contains(ua, "linux"):
		os = "linux"
	}

	return browser + "/" + os
}

// networkBlock maps an IP to its coarse network: /24 for IPv4, /48 for IPv6.
// Unparseable input hashes as-is rather than failing the fingerprint.
func networkBlock(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	if v4 := parsed.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String() + "/24"
	}
	masked := parsed.Mask(net.CIDRMask(48, 128))
	return masked.String() + "/48"
}
