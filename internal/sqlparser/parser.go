// Package sqlparser extracts just enough from query text to classify and
// route it: the leading keyword and, for the honeypot, a target table name.
// It is deliberately not a SQL parser.
package sqlparser

import "strings"

// Operation returns the first keyword of the query, uppercased. An empty
// query yields "".
func Operation(query string) string {
	fields := tokenize(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// TargetTable guesses the table a query addresses: the token following the
// first FROM, INTO or UPDATE keyword. Quoting and schema prefixes are
// stripped. Returns false when no candidate token exists.
func TargetTable(query string) (string, bool) {
	tokens := tokenize(query)
	for i, tok := range tokens {
		switch strings.ToUpper(tok) {
		case "FROM", "INTO":
			if i+1 < len(tokens) {
				if name := cleanIdentifier(tokens[i+1]); name != "" {
					return name, true
				}
			}
			return "", false
		case "UPDATE":
			if i != 0 {
				continue
			}
			if len(tokens) > 1 {
				if name := cleanIdentifier(tokens[1]); name != "" {
					return name, true
				}
			}
			return "", false
		}
	}
	return "", false
}

func tokenize(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ',', '(', ')', ';':
			return true
		}
		return false
	})
}

func cleanIdentifier(tok string) string {
	tok = strings.Trim(tok, "\"`'")
	if i := strings.LastIndexByte(tok, '.'); i >= 0 {
		tok = tok[i+1:]
	}
	return strings.Trim(tok, "\"`'")
}
