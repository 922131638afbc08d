package utils

import (
	"regexp"
	"strings"
)

var subjectPrefixRegex = regexp.MustCompile(`(?i)^(Re|Fwd|Fw)(\[\d+\])?:\s*`)

// NormalizeEmailSubject strips reply and forward prefixes, repeatedly, so
// "Re: Fwd: Budget" and "Budget" thread together.
func NormalizeEmailSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	for {
		stripped := strings.TrimSpace(subjectPrefixRegex.ReplaceAllString(subject, ""))
		if stripped == subject {
			return subject
		}
		subject = stripped
	}
}

// NormalizeMessageID drops the angle brackets around an RFC 5322 message id.
func NormalizeMessageID(messageID string) string {
	messageID = strings.TrimSpace(messageID)
	messageID = strings.TrimPrefix(messageID, "<")
	return strings.TrimSuffix(messageID, ">")
}
