package cache

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateKey joins a prefix and parameters with colons.
func GenerateKey(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, param := range params {
		fmt.Fprintf(&b, ":%v", param)
	}
	return b.String()
}

// BuildPattern matches every key generated under prefix.
func BuildPattern(prefix string) string {
	return prefix + "*"
}

func newLockToken() string {
	return uuid.NewString()
}
