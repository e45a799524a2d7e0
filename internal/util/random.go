// Package util provides utility functions for the CareLoop application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
// Uses math/rand/v2 for optimal performance with modern best practices.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2 with optimal entropy utilization for non-cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length) // Pre-allocate capacity for efficiency

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateScheduleID generates a unique schedule ID with "sch_" prefix.
func GenerateScheduleID() string {
	return GenerateRandomID("sch_", 32)
}

// GenerateReminderID generates a unique reminder ID with "rem_" prefix.
func GenerateReminderID() string {
	return GenerateRandomID("rem_", 32)
}

// GenerateAlertID generates a unique alert ID with "alr_" prefix.
func GenerateAlertID() string {
	return GenerateRandomID("alr_", 32)
}

// GeneratePatientID generates a unique patient ID with "pat_" prefix.
func GeneratePatientID() string {
	return GenerateRandomID("pat_", 32)
}
