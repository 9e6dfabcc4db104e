package cel

import (
	"fmt"
	"strings"
)

// lowerInOperator rewrites the policy grammar's infix `X in Y` ancestor
// check into an `inAncestor(X, Y)` call, so it reaches the custom binding
// instead of CEL's own native membership operator (which "in" would
// otherwise always resolve to, regardless of any user-declared function of
// the same name — "in" is a reserved word, not an overridable identifier).
//
// This is a small source-level rewrite rather than an AST transform: it
// tokenizes expr just enough to recognize brackets, strings, and a handful
// of operator boundaries, then for each bare `in` identifier token walks
// outward (skipping over any nested bracketed sub-expression wholesale) to
// the nearest enclosing logical/relational operator, comma, or bracket
// edge on each side, and wraps that span in a call. Multiple occurrences
// and parenthesized sub-expressions are both handled this way.
func lowerInOperator(expr string) (string, error) {
	toks, err := lexForLowering(expr)
	if err != nil {
		return "", err
	}

	var occurrences []int
	for i, t := range toks {
		if t.kind == lowTokIdent && t.text == "in" {
			occurrences = append(occurrences, i)
		}
	}
	if len(occurrences) == 0 {
		return expr, nil
	}

	var out strings.Builder
	prev := 0
	for _, j := range occurrences {
		leftStart := findLeftOperandStart(toks, j)
		rightEnd := findRightOperandEnd(toks, j)

		spanStart := toks[leftStart].pos
		var spanEnd int
		if rightEnd < len(toks) {
			spanEnd = toks[rightEnd].pos
		} else {
			spanEnd = len(expr)
		}
		if spanStart < prev {
			// Two "in" operands overlap (e.g. chained "a in b in c"), which
			// this grammar never produces; refuse rather than mangle it.
			return "", fmt.Errorf("unsupported nested/chained \"in\" expression near byte %d", spanStart)
		}

		leftText := strings.TrimSpace(expr[spanStart:toks[j].pos])
		rightFrom := spanEnd
		if j+1 < len(toks) {
			rightFrom = toks[j+1].pos
		}
		rightText := strings.TrimSpace(expr[rightFrom:spanEnd])

		out.WriteString(expr[prev:spanStart])
		out.WriteString("inAncestor(")
		out.WriteString(leftText)
		out.WriteString(", ")
		out.WriteString(rightText)
		out.WriteString(")")
		prev = spanEnd
	}
	out.WriteString(expr[prev:])
	return out.String(), nil
}

// findLeftOperandStart returns the token index beginning the operand to the
// left of the "in" token at index j, skipping wholesale over any nested
// bracketed sub-expression, and stopping at the nearest enclosing
// operator/comma boundary or the edge of an enclosing bracket.
func findLeftOperandStart(toks []lowToken, j int) int {
	rel := 0
	for i := j - 1; i >= 0; i-- {
		t := toks[i]
		switch {
		case isCloseBracket(t.text):
			rel++
		case isOpenBracket(t.text):
			if rel == 0 {
				return i + 1
			}
			rel--
		case rel == 0 && isInBoundary(t):
			return i + 1
		}
	}
	return 0
}

// findRightOperandEnd returns the token index just past the operand to the
// right of the "in" token at index j, with the same nested-bracket
// skipping as findLeftOperandStart.
func findRightOperandEnd(toks []lowToken, j int) int {
	rel := 0
	for i := j + 1; i < len(toks); i++ {
		t := toks[i]
		switch {
		case isOpenBracket(t.text):
			rel++
		case isCloseBracket(t.text):
			if rel == 0 {
				return i
			}
			rel--
		case rel == 0 && isInBoundary(t):
			return i
		}
	}
	return len(toks)
}

func isOpenBracket(s string) bool  { return s == "(" || s == "[" || s == "{" }
func isCloseBracket(s string) bool { return s == ")" || s == "]" || s == "}" }

func isInBoundary(t lowToken) bool {
	if t.kind == lowTokIdent && t.text == "in" {
		return true
	}
	if t.kind != lowTokSym {
		return false
	}
	switch t.text {
	case "&&", "||", "?", ":", "==", "!=", "<", "<=", ">", ">=", ",", ";", "":
		return true
	}
	return false
}

type lowTokKind int

const (
	lowTokIdent lowTokKind = iota
	lowTokString
	lowTokNumber
	lowTokSym
)

type lowToken struct {
	kind lowTokKind
	text string
	pos  int
}

// lexForLowering is a minimal tokenizer over CEL source: identifiers,
// string/number literals (opaque, never inspected beyond their span), and
// symbols. It only needs to be precise enough to find "in" tokens and
// bracket/operator boundaries, not to fully parse CEL.
func lexForLowering(src string) ([]lowToken, error) {
	var toks []lowToken
	i := 0
	n := len(src)
	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '"' || c == '\'':
			start := i
			quote := c
			i++
			for i < n && src[i] != quote {
				if src[i] == '\\' && i+1 < n {
					i += 2
					continue
				}
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated string literal in expression")
			}
			i++ // consume closing quote
			toks = append(toks, lowToken{kind: lowTokString, text: src[start:i], pos: start})
		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, lowToken{kind: lowTokIdent, text: src[start:i], pos: start})
		case c >= '0' && c <= '9':
			start := i
			for i < n && (isIdentPart(src[i]) || src[i] == '.') {
				i++
			}
			toks = append(toks, lowToken{kind: lowTokNumber, text: src[start:i], pos: start})
		case isOpenBracket(string(c)) || isCloseBracket(string(c)):
			toks = append(toks, lowToken{kind: lowTokSym, text: string(c), pos: i})
			i++
		default:
			start := i
			two := ""
			if i+1 < n {
				two = src[i : i+2]
			}
			switch two {
			case "&&", "||", "==", "!=", "<=", ">=", "::":
				i += 2
			default:
				i++
			}
			toks = append(toks, lowToken{kind: lowTokSym, text: src[start:i], pos: start})
		}
	}
	// Sentinel end-of-input token so operand scans that run off the end of
	// the expression have a position to report as their boundary.
	toks = append(toks, lowToken{kind: lowTokSym, text: "", pos: n})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
