package trust

import (
	"crypto/x509"
	"errors"
	"strconv"
	"strings"
)

// ErrHostnameMismatch is returned when the connection target matches none
// of the certificate's subject alternative names.
var ErrHostnameMismatch = errors.New("certificate does not match the requested host name")

// VerifyHostname checks the connection target against the certificate's
// subject alternative names. A literal IPv4 dotted quad is matched only
// against IP-typed names, exact and case-insensitive; any other host is
// matched only against DNS-typed names, exact or with a single leading
// wildcard label. There is no fallback to the subject common name.
func VerifyHostname(host string, cert *x509.Certificate) error {
	if isIPv4(host) {
		for _, ip := range cert.IPAddresses {
			if strings.EqualFold(ip.String(), host) {
				return nil
			}
		}
		return ErrHostnameMismatch
	}

	for _, name := range cert.DNSNames {
		if matchHostname(host, name) {
			return nil
		}
	}
	return ErrHostnameMismatch
}

// isIPv4 reports whether host is a literal dotted-quad IPv4 address.
func isIPv4(host string) bool {
	sections := strings.Split(host, ".")
	if len(sections) != 4 {
		return false
	}
	for _, section := range sections {
		n, err := strconv.Atoi(section)
		if err != nil || n < 0 || n > 255 || section != strconv.Itoa(n) {
			return false
		}
	}
	return true
}

// matchHostname matches a host against a certificate DNS name. A wildcard
// is only honored as the entire left-most label and covers exactly one
// label: *.example.com matches a.example.com but neither example.com nor
// x.y.example.com.
func matchHostname(host, pattern string) bool {
	if strings.EqualFold(host, pattern) {
		return true
	}

	patternLabels := strings.Split(pattern, ".")
	hostLabels := strings.Split(host, ".")
	if len(patternLabels) != len(hostLabels) {
		return false
	}
	if patternLabels[0] != "*" {
		return false
	}
	for i := 1; i < len(patternLabels); i++ {
		if !strings.EqualFold(hostLabels[i], patternLabels[i]) {
			return false
		}
	}
	return true
}
