package utils

import "strings"

func UniqueEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	unique := make([]string, 0, len(emails))

	for _, email := range emails {
		if _, exists := seen[email]; !exists {
			seen[email] = struct{}{}
			unique = append(unique, email)
		}
	}

	return unique
}

// ExtractEmailAddress pulls the bare address out of forms like
// "Name <email@domain.com>".
func ExtractEmailAddress(email string) string {
	email = strings.TrimSpace(email)
	if strings.Contains(email, "<") && strings.Contains(email, ">") {
		startIdx := strings.LastIndex(email, "<") + 1
		endIdx := strings.LastIndex(email, ">")
		if startIdx > 0 && endIdx > startIdx {
			email = email[startIdx:endIdx]
		}
	}
	return strings.ToLower(strings.TrimSpace(email))
}
