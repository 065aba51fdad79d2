// Package pattern compiles and evaluates objtalk's glob-like query
// language: a comma-separated union of slash-segmented sub-patterns using
// the literal segment match, '+' (exactly one non-empty segment) and '*'
// (the remainder of the name, only legal as the final part).
package pattern

import "strings"

type partKind int

const (
	kindLiteral partKind = iota
	kindPlus
	kindStar
)

type part struct {
	kind    partKind
	literal string
}

type subPattern []part

// Pattern is a compiled query pattern, cheap to evaluate repeatedly
// against the registry once parsed.
type Pattern struct {
	raw  string
	subs []subPattern
}

// Compile parses pattern text into a Pattern, or returns a
// *ValidationError (wrapping ErrInvalidPattern) describing the first
// grammar violation found.
func Compile(text string) (*Pattern, error) {
	if text == "" {
		return nil, invalid("pattern cannot be empty")
	}

	subTexts := strings.Split(text, ",")
	subs := make([]subPattern, 0, len(subTexts))

	for _, subText := range subTexts {
		sp, err := compileSubPattern(subText)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sp)
	}

	return &Pattern{raw: text, subs: subs}, nil
}

func compileSubPattern(subText string) (subPattern, error) {
	if subText == "" {
		return nil, invalid("sub-pattern cannot be empty")
	}

	partTexts := strings.Split(subText, "/")
	sp := make(subPattern, 0, len(partTexts))

	for i, pt := range partTexts {
		if pt == "" {
			return nil, invalid("pattern part cannot be empty")
		}

		switch pt {
		case "+":
			sp = append(sp, part{kind: kindPlus})
		case "*":
			if i != len(partTexts)-1 {
				return nil, invalid("'*' must be the last part of a sub-pattern")
			}
			sp = append(sp, part{kind: kindStar})
		default:
			if strings.ContainsAny(pt, "+*") {
				return nil, invalid("'+' and '*' must stand alone in a pattern part")
			}
			sp = append(sp, part{kind: kindLiteral, literal: pt})
		}
	}

	return sp, nil
}

// Matches reports whether name matches any of the pattern's sub-patterns.
func (p *Pattern) Matches(name string) bool {
	levels := strings.Split(name, "/")
	for _, sp := range p.subs {
		if sp.matches(levels) {
			return true
		}
	}
	return false
}

func (sp subPattern) matches(levels []string) bool {
	for i, pt := range sp {
		if pt.kind == kindStar {
			// '*' follows a '/', so the name must have that separator.
			return i < len(levels)
		}
		if i >= len(levels) {
			return false
		}
		switch pt.kind {
		case kindPlus:
			if levels[i] == "" {
				return false
			}
		case kindLiteral:
			if levels[i] != pt.literal {
				return false
			}
		}
	}
	return len(sp) == len(levels)
}

// String reconstructs the pattern text from its compiled form. Recompiling
// it yields a Pattern that matches identically to the original (the
// compile/stringify round-trip property).
func (p *Pattern) String() string {
	subTexts := make([]string, len(p.subs))
	for i, sp := range p.subs {
		parts := make([]string, len(sp))
		for j, pt := range sp {
			switch pt.kind {
			case kindPlus:
				parts[j] = "+"
			case kindStar:
				parts[j] = "*"
			default:
				parts[j] = pt.literal
			}
		}
		subTexts[i] = strings.Join(parts, "/")
	}
	return strings.Join(subTexts, ",")
}
