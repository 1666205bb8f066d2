package forest

import (
	"strings"

	"golang.org/x/text/language"
)

// Location names carry an inline micro-format: substrings in square
// brackets are stripped from the displayed name. "[fr:Salle]" supplies a
// locale override, "[*]" (a bare asterisk anywhere inside brackets) marks
// the default location. Any other bracketed content is ignored.
type parsedName struct {
	base      string
	overrides map[string]string // normalized locale tag -> text
	isDefault bool
}

func parseName(raw string) parsedName {
	p := parsedName{}
	var base strings.Builder
	rest := raw
	for {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			base.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], ']')
		if end < 0 {
			base.WriteString(rest)
			break
		}
		base.WriteString(rest[:open])
		inner := rest[open+1 : open+end]
		rest = rest[open+end+1:]
		p.parseBracket(inner)
	}
	p.base = strings.Join(strings.Fields(base.String()), " ")
	return p
}

func (p *parsedName) parseBracket(inner string) {
	if strings.Contains(inner, "*") {
		p.isDefault = true
		inner = strings.ReplaceAll(inner, "*", "")
	}
	colon := strings.IndexByte(inner, ':')
	if colon <= 0 {
		return
	}
	tag, text := strings.TrimSpace(inner[:colon]), strings.TrimSpace(inner[colon+1:])
	key := normalizeTag(tag)
	if key == "" || text == "" {
		return
	}
	if p.overrides == nil {
		p.overrides = make(map[string]string)
	}
	p.overrides[key] = text
}

// resolve picks the display name for a locale: exact tag first, then
// successively broader prefixes (language+region+variant, language+region,
// language), then the unlocalized base.
func (p parsedName) resolve(locale language.Tag) string {
	if len(p.overrides) > 0 && locale != language.Und {
		key := normalizeTag(locale.String())
		for key != "" {
			if text, ok := p.overrides[key]; ok {
				return text
			}
			cut := strings.LastIndexByte(key, '-')
			if cut < 0 {
				break
			}
			key = key[:cut]
		}
	}
	return p.base
}

// normalizeTag canonicalizes a locale tag for map lookup: underscores
// become hyphens, everything lowercased. Tags that do not parse at all are
// rejected so arbitrary "key:value" brackets are not mistaken for locales.
func normalizeTag(tag string) string {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return ""
	}
	if _, err := language.Parse(tag); err != nil {
		return ""
	}
	return strings.ToLower(tag)
}
