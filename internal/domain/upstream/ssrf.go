// Package upstream validates configured provider base URLs against SSRF
// targets (spec.md §2 step 3): private IPv4/IPv6 ranges and link-local
// metadata ranges are rejected, with an explicit exception for localhost
// and 127.0.0.1 to support locally-hosted LLM runtimes.
package upstream

import (
	"fmt"
	"net"
	"net/url"
)

var privateNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",     // RFC 1918 private
		"172.16.0.0/12",  // RFC 1918 private
		"192.168.0.0/16", // RFC 1918 private
		"169.254.0.0/16", // link-local / cloud metadata (169.254.169.254)
		"fc00::/7",       // IPv6 unique local
		"fe80::/10",      // IPv6 link-local
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR in privateNetworks: " + cidr)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// isPrivateIP reports whether ip falls within a blocked private/link-local
// range. Loopback is deliberately NOT included here — ValidateHost allows it
// explicitly so local LLM runtimes remain reachable.
func isPrivateIP(ip net.IP) bool {
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isLoopbackHost reports whether host is a permitted loopback reference.
func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateURL parses rawURL and validates its host is not an SSRF target.
// It resolves hostnames via DNS so it only belongs on paths that can afford
// a lookup (config load, not per-request hot path).
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid upstream URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream URL %q must use http or https", rawURL)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("upstream URL %q has no host", rawURL)
	}
	return ValidateHost(host)
}

// ValidateHost checks a single hostname or IP literal against the SSRF
// blocklist, resolving hostnames first. localhost/127.0.0.1 are permitted.
func ValidateHost(host string) error {
	if isLoopbackHost(host) {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return fmt.Errorf("upstream host %s resolves to a private/reserved IP range", host)
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolving upstream host %s: %w", host, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("upstream host %s resolves to private IP %s", host, ip)
		}
	}
	return nil
}
