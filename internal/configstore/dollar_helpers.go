package configstore

import (
	"bytes"
	"errors"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Users write `\$` in double-quoted strings to keep a literal dollar in a
// path such as mitmproxy_dir. go-toml rejects that escape, so decodeConfig
// retries once with every `\$` inside a basic string doubled to `\\$`, and
// ExpandPath later turns `\$` back into `$` instead of expanding it.

const escapedDollarPlaceholder = "\x00CONTAIN_AGENT_DOLLAR\x00"

func needsDollarEscapeFix(err error) bool {
	var decodeErr *toml.DecodeError
	if !errors.As(err, &decodeErr) {
		return false
	}
	return strings.Contains(decodeErr.Error(), "invalid escaped character U+0024 '$'")
}

type quoteKind int

const (
	quoteNone quoteKind = iota
	quoteBasic
	quoteBasicMulti
	quoteLiteral
	quoteLiteralMulti
)

// sanitizeDollarEscapes rewrites `\$` to `\\$` inside basic (double-quoted)
// strings only. Literal strings and bare text are copied unchanged.
func sanitizeDollarEscapes(data []byte) ([]byte, bool) {
	if !bytes.Contains(data, []byte(`\$`)) {
		return data, false
	}

	out := make([]byte, 0, len(data)+16)
	modified := false
	state := quoteNone
	triple := func(i int, q byte) bool {
		return i+2 < len(data) && data[i] == q && data[i+1] == q && data[i+2] == q
	}

	for i := 0; i < len(data); i++ {
		ch := data[i]
		switch state {
		case quoteNone:
			switch {
			case triple(i, '"'):
				out = append(out, `"""`...)
				i += 2
				state = quoteBasicMulti
			case ch == '"':
				out = append(out, ch)
				state = quoteBasic
			case triple(i, '\''):
				out = append(out, `'''`...)
				i += 2
				state = quoteLiteralMulti
			case ch == '\'':
				out = append(out, ch)
				state = quoteLiteral
			default:
				out = append(out, ch)
			}
		case quoteLiteral:
			out = append(out, ch)
			if ch == '\'' {
				state = quoteNone
			}
		case quoteLiteralMulti:
			if triple(i, '\'') {
				out = append(out, `'''`...)
				i += 2
				state = quoteNone
				continue
			}
			out = append(out, ch)
		case quoteBasic, quoteBasicMulti:
			if ch == '\\' && i+1 < len(data) {
				if data[i+1] == '$' {
					out = append(out, '\\')
					modified = true
				}
				out = append(out, ch, data[i+1])
				i++
				continue
			}
			if state == quoteBasicMulti && triple(i, '"') {
				out = append(out, `"""`...)
				i += 2
				state = quoteNone
				continue
			}
			out = append(out, ch)
			if state == quoteBasic && ch == '"' {
				state = quoteNone
			}
		}
	}

	if !modified {
		return data, false
	}
	return out, true
}

// expandConfigValue expands $VAR and ${VAR} from the environment, keeping
// `\$` as a literal dollar.
func expandConfigValue(raw string) string {
	if raw == "" || !strings.Contains(raw, "$") {
		return raw
	}
	protected := strings.ReplaceAll(raw, `\$`, escapedDollarPlaceholder)
	expanded := os.Expand(protected, os.Getenv)
	return strings.ReplaceAll(expanded, escapedDollarPlaceholder, "$")
}
