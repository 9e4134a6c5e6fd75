package ratelimit

import "strconv"

// KeyForUser builds the limiter key for an authenticated user.
func KeyForUser(userID uint64) string {
	if userID == 0 {
		return ""
	}
	return "u:" + strconv.FormatUint(userID, 10)
}
