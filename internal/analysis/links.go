package analysis

import (
	"strings"

	"github.com/rivo/uniseg"
)

// textElement is the element whose content is scanned for links.
const textElement = "text"

type elementState int

const (
	stateOutside elementState = iota
	stateTagOpening
	stateTagName
	stateAttributes
	stateContent
	stateTagClosing
)

// linkScanner counts link targets from a stream of grapheme clusters.
//
// Two "[" clusters open a link; they need not be adjacent. Once open, the
// clusters up to the next "#", "|" or "]" form the target.
type linkScanner struct {
	counts        map[string]uint64
	target        strings.Builder
	firstBracket  bool
	secondBracket bool
}

func (s *linkScanner) feed(c string) {
	if s.firstBracket && s.secondBracket {
		switch c {
		case "#", "|", "]":
			s.counts[s.target.String()]++
			s.target.Reset()
			s.firstBracket = false
			s.secondBracket = false
		default:
			s.target.WriteString(c)
		}
		return
	}

	if c == "[" {
		if !s.firstBracket {
			s.firstBracket = true
		} else {
			s.secondBracket = true
		}
	}
}

// LinkFrequencies counts wiki link targets inside <text> elements of
// markup in a single forward pass, without building a document tree.
// A target seen once has count 1.
func LinkFrequencies(markup string) map[string]uint64 {
	links := &linkScanner{counts: make(map[string]uint64)}

	var (
		state       = stateOutside
		name        strings.Builder
		inText      bool
		selfClosing bool
	)

	gr := uniseg.NewGraphemes(markup)
	for gr.Next() {
		c := gr.Str()

		switch state {
		case stateOutside, stateContent:
			if c == "<" {
				state = stateTagOpening
				name.Reset()
				selfClosing = false
				continue
			}
			if inText {
				links.feed(c)
			}

		case stateTagOpening:
			switch {
			case c == "/":
				state = stateTagClosing
			case c == ">":
				state = stateContent
			case isSpace(c):
				state = stateAttributes
			default:
				name.WriteString(c)
				state = stateTagName
			}

		case stateTagName:
			switch {
			case c == ">":
				if name.String() == textElement {
					inText = true
				}
				state = stateContent
			case c == "/":
				selfClosing = true
				state = stateAttributes
			case isSpace(c):
				state = stateAttributes
			default:
				name.WriteString(c)
			}

		case stateAttributes:
			switch {
			case c == ">":
				if name.String() == textElement && !selfClosing {
					inText = true
				}
				state = stateContent
			case c == "/":
				selfClosing = true
			case !isSpace(c):
				selfClosing = false
			}

		case stateTagClosing:
			switch {
			case c == ">":
				if name.String() == textElement {
					inText = false
				}
				state = stateOutside
			case isSpace(c):
			default:
				name.WriteString(c)
			}
		}
	}

	return links.counts
}

func isSpace(c string) bool {
	return strings.TrimSpace(c) == ""
}
