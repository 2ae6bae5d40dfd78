package handlers

import "github.com/gin-gonic/gin"

// getUserID returns the authenticated user id, or zero for anonymous requests.
func getUserID(c *gin.Context) uint64 {
	value, exists := c.Get("userID")
	if !exists {
		return 0
	}
	userID, ok := value.(uint64)
	if !ok {
		return 0
	}
	return userID
}
