package utils

import (
	"os"
	"strings"
)

// IsProd reports whether ENVIRONMENT names a production deployment
func IsProd() bool {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	return env == "production" || env == "prod"
}

// IsDev reports whether ENVIRONMENT is unset or names development
func IsDev() bool {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	return env == "development" || env == "dev" || env == ""
}

// MaskSecret hides all but the edges of a secret for printing
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
