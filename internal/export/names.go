package export

import (
	"fmt"
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Sanitize replaces every run of characters that are not ASCII letters or
// digits with one underscore.
func Sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// LinksFileName names the links file of a job.
func LinksFileName(userID, taskID, keywords, country string) string {
	return fmt.Sprintf("links_%s_%s_%s.csv", userID, taskID, Sanitize(strings.TrimSpace(keywords)+"_in_"+strings.TrimSpace(country)))
}

// ResultsFileName names the results file of a job.
func ResultsFileName(userID, taskID string) string {
	return fmt.Sprintf("results_%s_%s.csv", userID, taskID)
}
