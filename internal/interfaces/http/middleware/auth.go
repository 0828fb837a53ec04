package middleware

import (
	"crypto/subtle"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// HeaderAPIKey carries a static API key.
const HeaderAPIKey = "X-API-Key"

// APIKeyAuth requires one of keys in X-API-Key or as a Bearer token. With
// no keys configured every request passes.
func APIKeyAuth(keys []string) gin.HandlerFunc {
	var valid [][]byte
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, []byte(k))
		}
	}

	return func(c *gin.Context) {
		if len(valid) == 0 {
			c.Next()
			return
		}
		presented := extractAPIKey(c)
		if presented == "" {
			WriteError(c, errors.New(errors.ErrCodeUnauthorized, "API key required"))
			return
		}
		for i, k := range valid {
			if subtle.ConstantTimeCompare([]byte(presented), k) == 1 {
				c.Set(apiKeyIDKey, "key-"+strconv.Itoa(i+1))
				c.Next()
				return
			}
		}
		WriteError(c, errors.New(errors.ErrCodeUnauthorized, "invalid API key"))
	}
}

func extractAPIKey(c *gin.Context) string {
	if k := strings.TrimSpace(c.GetHeader(HeaderAPIKey)); k != "" {
		return k
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// GetAPIKeyID returns the ordinal ID ("key-N") of the accepted key, or "".
func GetAPIKeyID(c *gin.Context) string {
	return c.GetString(apiKeyIDKey)
}
