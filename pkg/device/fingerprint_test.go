package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const chromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestFingerprintStableWithinNetworkBlock(t *testing.T) {
	a := GenerateFingerprint(FingerprintData{UserAgent: chromeWindows, IP: "203.0.113.10"})
	b := GenerateFingerprint(FingerprintData{UserAgent: chromeWindows, IP: "203.0.113.250"})
	assert.Equal(t, a, b, "same /24 should fingerprint identically")

	c := GenerateFingerprint(FingerprintData{UserAgent: chromeWindows, IP: "203.0.114.10"})
	assert.NotEqual(t, a, c, "different /24 should fingerprint differently")
}

func TestFingerprintIgnoresMinorVersionBump(t *testing.T) {
	upgraded := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	a := GenerateFingerprint(FingerprintData{UserAgent: chromeWindows, IP: "203.0.113.10"})
	b := GenerateFingerprint(FingerprintData{UserAgent: upgraded, IP: "203.0.113.10"})
	assert.Equal(t, a, b)
}

func TestFingerprintDistinguishesBrowserFamily(t *testing.T) {
	firefox := "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:120.0) Gecko/20100101 Firefox/120.0"
	a := GenerateFingerprint(FingerprintData{UserAgent: chromeWindows, IP: "203.0.113.10"})
	b := GenerateFingerprint(FingerprintData{UserAgent: firefox, IP: "203.0.113.10"})
	assert.NotEqual(t, a, b)
}

func TestFingerprintIncludesClientEntropy(t *testing.T) {
	a := GenerateFingerprint(FingerprintData{UserAgent: chromeWindows, IP: "203.0.113.10", ClientEntropy: "tok-1"})
	b := GenerateFingerprint(FingerprintData{UserAgent: chromeWindows, IP: "203.0.113.10", ClientEntropy: "tok-2"})
	assert.NotEqual(t, a, b)
}

func TestNetworkBlockIPv6(t *testing.T) {
	a := networkBlock("2001:db8:abcd:1::1")
	b := networkBlock("2001:db8:abcd:2::1")
	assert.Equal(t, a, b, "same /48 should collapse")

	c := networkBlock("2001:db8:beef:1::1")
	assert.NotEqual(t, a, c)
}
