package text

import (
	"cmp"
	"slices"
	"strings"

	"github.com/edgard/omega/internal/chat"
)

// ReplaceMentions rewrites every mention token of every participant into that
// participant's display name. Text without mention tokens is returned unchanged.
//
// When tokens overlap (e.g. "@bob" and "@bobby"), the longest one wins.
func ReplaceMentions(input string, participants []chat.Participant) string {
	if input == "" || len(participants) == 0 {
		return input
	}

	type pair struct{ token, name string }
	var pairs []pair
	for _, p := range participants {
		if p.DisplayName == "" {
			continue
		}
		for _, tok := range p.MentionTokens {
			if tok != "" {
				pairs = append(pairs, pair{tok, p.DisplayName})
			}
		}
	}
	if len(pairs) == 0 {
		return input
	}

	// strings.Replacer tries old strings in argument order at each position.
	slices.SortStableFunc(pairs, func(a, b pair) int {
		return cmp.Compare(len(b.token), len(a.token))
	})

	args := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		args = append(args, p.token, p.name)
	}
	return strings.NewReplacer(args...).Replace(input)
}

// CleanReply normalizes model output before it is sent: invisible format
// characters and stray control characters are removed, and speaker labels the
// model copied from the transcript format ("Omega : ...") are stripped from the
// start of the reply.
func CleanReply(reply string, speakerLabels ...string) string {
	s := unicodeReplacer.Replace(reply)
	s = controlCharsRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	for _, label := range speakerLabels {
		if label == "" {
			continue
		}
		for _, sep := range []string{" : ", ": "} {
			if rest, ok := strings.CutPrefix(s, label+sep); ok {
				s = strings.TrimSpace(rest)
			}
		}
	}
	return s
}
