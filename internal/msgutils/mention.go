package msgutils

import (
	"regexp"
)

var mentionRe = regexp.MustCompile(`@([\w-]+)`)

// ExtractMentions extracts mentions from a message.
// A mention is a '@' followed by word characters or hyphens,
// e.g. "@dev" and "@qa-bot" are valid mentions.
func ExtractMentions(msg string) []string {
	var mentions []string
	for _, m := range mentionRe.FindAllStringSubmatch(msg, -1) {
		mentions = append(mentions, m[1])
	}
	return mentions
}
