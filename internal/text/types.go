// Package text holds the pure text transformations applied around language
// model calls: mention resolution before prompting, reply cleanup after it,
// and splitting replies into platform-sized messages.
package text

import (
	"regexp"
	"strings"
)

var (
	// paragraphBreakRegex matches a blank line in any of the line-ending
	// conventions a platform may deliver. Alternatives are tried left to
	// right, so CRLF pairs win over the bare CR/LF forms.
	paragraphBreakRegex = regexp.MustCompile(`\r\n\r\n|\n\n|\r\r`)

	// controlCharsRegex matches ASCII control characters (including DEL) other
	// than tab, LF and CR.
	controlCharsRegex = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	// unicodeReplacer drops invisible format characters models sometimes emit
	// and turns exotic spaces into plain ones.
	unicodeReplacer = strings.NewReplacer(
		"\u2060", "", // word joiner
		"\uFEFF", "", // byte order mark
		"\u00AD", "", // soft hyphen
		"\u200E", "", // left-to-right mark
		"\u200F", "", // right-to-left mark
		"\u2028", "\n", // line separator
		"\u2029", "\n\n", // paragraph separator
		"\u200B", "", // zero width space
		"\u2009", " ", // thin space
		"\u200A", " ", // hair space
		"\u202F", " ", // narrow no-break space
		"\u00A0", " ", // no-break space
	)
)
