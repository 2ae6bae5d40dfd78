package ratelimit

import (
	"fmt"
	"strings"
)

// KeyForUser builds a limiter key scoped to a signed-in user.
func KeyForUser(userID uint64) string {
	if userID == 0 {
		return ""
	}
	return fmt.Sprintf("u:%d", userID)
}

// KeyForIP builds a limiter key scoped to a client address, used for
// anonymous generation requests.
func KeyForIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	return "ip:" + ip
}
