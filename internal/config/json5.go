package config

import (
	"fmt"
	"regexp"
	"strings"

	sequencererr "github.com/lithium-sequencer/sequencer/internal/errors"
)

// bareKeyRe matches an unquoted JSON5 object key: [A-Za-z_][A-Za-z0-9_-]*
// immediately followed by a colon. Grounded on
// original_source/src/config/json5.hpp's documented scope:
// exactly two transforms, nothing more (no trailing commas, no single quotes).
var bareKeyRe = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_-]*)(\s*:)`)

// ToJSON converts the limited JSON5 subset this store accepts into strict
// JSON: strip `//` line comments and `/* */` block comments outside string
// literals, then quote bare object keys. It is a pure function with no
// locking, independent of any Store instance. An unterminated string or
// block comment is reported as an InvalidParameter error naming the line
// it started on, mirroring original_source/src/config/json5.hpp's
// JSON5ParseError("Unterminated string"/"Unterminated multi-line comment").
func ToJSON(src string) (string, error) {
	stripped, err := stripComments(src)
	if err != nil {
		return "", err
	}
	return bareKeyRe.ReplaceAllString(stripped, `$1"$2"$3`), nil
}

// stripComments removes // and /* */ comments that are not inside a
// double-quoted string literal, tracking escape sequences so a `\"` inside
// a string does not end it early, and tracking 1-based line numbers so an
// unterminated string or comment can be reported with its starting line.
func stripComments(src string) (string, error) {
	var out strings.Builder
	inString := false
	escaped := false
	runes := []rune(src)

	line := 1
	stringStartLine := 0
	commentStartLine := 0

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c == '\n' {
			line++
		}

		if inString {
			out.WriteRune(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			stringStartLine = line
			out.WriteRune(c)
			continue
		}

		if c == '/' && i+1 < len(runes) && runes[i+1] == '/' {
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			if i < len(runes) {
				out.WriteRune('\n')
				line++
			}
			continue
		}

		if c == '/' && i+1 < len(runes) && runes[i+1] == '*' {
			commentStartLine = line
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				if runes[i] == '\n' {
					out.WriteRune('\n')
					line++
				}
				i++
			}
			if i+1 >= len(runes) {
				return "", sequencererr.New(sequencererr.InvalidParameter,
					fmt.Sprintf("unterminated block comment starting at line %d", commentStartLine))
			}
			i++ // skip the '*' of "*/", loop's i++ skips the '/'
			continue
		}

		out.WriteRune(c)
	}

	if inString {
		return "", sequencererr.New(sequencererr.InvalidParameter,
			fmt.Sprintf("unterminated string starting at line %d", stringStartLine))
	}
	return out.String(), nil
}
