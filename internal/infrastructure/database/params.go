package database

import "strconv"

// namedParams maps each :name, @name and $name parameter in sql to the
// index SQLite assigns it. Anonymous "?" takes the next free index and
// "?NNN" claims NNN; a repeated name reuses its first index.
func namedParams(sql string) map[string]int {
	out := make(map[string]int)
	highest := 0

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i, c)
		case c == '[':
			i = skipQuoted(sql, i, ']')
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i += 2
			for i+1 < len(sql) && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i++
		case c == '?':
			j := i + 1
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			if j > i+1 {
				if n, err := strconv.Atoi(sql[i+1 : j]); err == nil && n > highest {
					highest = n
				}
			} else {
				highest++
			}
			i = j - 1
		case c == ':' || c == '@' || c == '$':
			j := i + 1
			for j < len(sql) && isIdent(sql[j]) {
				j++
			}
			if j == i+1 {
				continue
			}
			name := sql[i+1 : j]
			if _, seen := out[name]; !seen {
				highest++
				out[name] = highest
			}
			i = j - 1
		}
	}
	return out
}

// skipQuoted returns the index of the closing quote for the literal
// starting at start; doubled quotes are escapes.
func skipQuoted(sql string, start int, closing byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != closing {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == closing && closing != ']' {
			i++
			continue
		}
		return i
	}
	return len(sql)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdent(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
