package v1

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// getClientIP extracts the originating client IP, preferring reverse-proxy
// headers over the socket address.
func getClientIP(c *fiber.Ctx) string {
	if ip := firstPublicIP(strings.Split(c.Get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	for _, header := range []string{
		"X-Real-IP",
		"CF-Connecting-IP",
		"True-Client-IP",
		"X-Client-IP",
	} {
		if value := c.Get(header); value != "" {
			if ip := firstPublicIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	remoteAddr := c.Context().RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		if parsed := net.ParseIP(host); parsed != nil {
			return host
		}
	}

	return c.IP()
}

// firstPublicIP returns the first non-private parseable address in the list.
func firstPublicIP(candidates []string) string {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		parsed := net.ParseIP(candidate)
		if parsed == nil {
			continue
		}
		if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() {
			continue
		}
		return candidate
	}
	return ""
}
