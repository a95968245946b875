package command

import "strings"

// shellSafe lists the punctuation that never needs quoting in a bash word.
const shellSafe = "@%_+=:,./-"

// QuoteArgs renders argv as one bash command line that splits back into
// the same words. Unsafe words are single-quoted; embedded single quotes
// close the quote, emit a double-quoted ' and reopen it.
func QuoteArgs(argv []string) string {
	var b strings.Builder
	for i, word := range argv {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(quoteShellArg(word))
	}
	return b.String()
}

func quoteShellArg(word string) string {
	switch {
	case word == "":
		return "''"
	case strings.IndexFunc(word, needsQuoting) < 0:
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", `'"'"'`) + "'"
}

func needsQuoting(r rune) bool {
	if r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
		return false
	}
	return !strings.ContainsRune(shellSafe, r)
}
