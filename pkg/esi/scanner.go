package esi

import (
	"regexp"
	"strings"
)

const tagPrefix = "<esi:"

var commentRe = regexp.MustCompile(`(?is)<!--esi\b(.*?)-->`)

// Tag is an esi:* element found by Scan.
type Tag struct {
	// Name is the lowercased tag name including the prefix, e.g. "esi:include".
	Name  string
	Attrs Attributes
	// Body is the inner text of an open/close tag, empty when SelfClosed.
	Body       string
	SelfClosed bool
	// Raw is the complete original tag text.
	Raw string
}

// Part is a piece of a scanned document. Tag is nil for literal text; Text
// always holds the original text of the part.
type Part struct {
	Text string
	Tag  *Tag
}

// Scan splits doc into literal and tag parts. Concatenating the Text of all
// parts yields doc again.
func Scan(doc string) []Part {
	var parts []Part
	last, i := 0, 0
	for {
		rel := indexFold(doc[i:], tagPrefix)
		if rel < 0 {
			break
		}
		start := i + rel

		tag, end, ok := scanTag(doc, start)
		if !ok {
			i = start + 1
			continue
		}

		if start > last {
			parts = append(parts, Part{Text: doc[last:start]})
		}
		parts = append(parts, Part{Text: tag.Raw, Tag: tag})
		last, i = end, end
	}

	if last < len(doc) {
		parts = append(parts, Part{Text: doc[last:]})
	}
	return parts
}

// scanTag tries to read a tag starting at doc[start], which begins with
// "<esi:". It returns the tag and the offset just past it.
func scanTag(doc string, start int) (*Tag, int, bool) {
	nameEnd := start + len(tagPrefix)
	for nameEnd < len(doc) && isLetter(doc[nameEnd]) {
		nameEnd++
	}
	if nameEnd == start+len(tagPrefix) {
		return nil, 0, false
	}
	if nameEnd < len(doc) && isWordChar(doc[nameEnd]) {
		return nil, 0, false
	}
	name := doc[start+1 : nameEnd]

	gt := headEnd(doc, nameEnd)
	if gt < 0 {
		return nil, 0, false
	}
	head := doc[nameEnd:gt]

	if strings.HasSuffix(head, "/") {
		end := gt + 1
		return &Tag{
			Name:       strings.ToLower(name),
			Attrs:      ParseAttributes(head[:len(head)-1]),
			SelfClosed: true,
			Raw:        doc[start:end],
		}, end, true
	}

	closing := "</" + name + ">"
	bodyEnd := closeIndex(doc, gt+1, "<"+name, closing)
	if bodyEnd < 0 {
		return nil, 0, false
	}
	end := bodyEnd + len(closing)

	return &Tag{
		Name:  strings.ToLower(name),
		Attrs: ParseAttributes(head),
		Body:  doc[gt+1 : bodyEnd],
		Raw:   doc[start:end],
	}, end, true
}

// headEnd returns the index of the '>' ending the tag head that starts at
// doc[i], or -1. A '>' inside a quoted attribute value does not end the head.
func headEnd(doc string, i int) int {
	for i < len(doc) {
		switch c := doc[i]; {
		case c == '>':
			return i
		case (c == '"' || c == '\'') && i > 0 && doc[i-1] == '=':
			i = skipQuoted(doc, i)
			if i < 0 {
				return -1
			}
		default:
			i++
		}
	}
	return -1
}

// skipQuoted returns the index after the quote closing the value opened at
// doc[i], or -1 when it is never closed. Escapes follow readQuoted.
func skipQuoted(doc string, i int) int {
	quote := doc[i]
	for i++; i < len(doc); i++ {
		switch doc[i] {
		case '\\':
			if i+1 < len(doc) && doc[i+1] == quote {
				i++
			}
		case quote:
			return i + 1
		}
	}
	return -1
}

// closeIndex returns the index of the closing tag that balances a tag whose
// body starts at doc[from]. Complete tags of the same name inside the body
// are skipped as a whole, so same-name nesting keeps its structure.
func closeIndex(doc string, from int, open, closing string) int {
	i := from
	for {
		c := indexFold(doc[i:], closing)
		if c < 0 {
			return -1
		}
		c += i

		o := indexFold(doc[i:c], open)
		if o < 0 {
			return c
		}
		o += i

		after := o + len(open)
		if after < len(doc) && isWordChar(doc[after]) {
			i = o + 1
			continue
		}
		if _, end, ok := scanTag(doc, o); ok {
			i = end
			continue
		}
		i = o + 1
	}
}

// rewriteComments turns <!--esi ... --> wrappers into esi:vars blocks.
func rewriteComments(doc string) string {
	if !strings.Contains(doc, "<!--") {
		return doc
	}
	return commentRe.ReplaceAllString(doc, "<esi:vars>${1}</esi:vars>")
}

// indexFold is an ASCII case-insensitive strings.Index. substr must start
// with a byte that has no case variant.
func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); {
		j := strings.IndexByte(s[i:], substr[0])
		if j < 0 {
			return -1
		}
		i += j
		if i+len(substr) > len(s) {
			return -1
		}
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
		i++
	}
	return -1
}

func isLetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isWordChar(c byte) bool {
	return isLetter(c) || ('0' <= c && c <= '9') || c == '_'
}
