package demangle

import "strings"

// MSVC name demangling has no library in the Go ecosystem, so the subset
// PDB symbol records need is decoded here: qualified names with the
// single-digit back-reference table, template names, the common
// primitive/pointer/reference/class/enum parameter encodings, and the
// function-type wrapper around them. The rendering is the display form
// profilers show — scope::name(params) — without the return type or
// calling convention. Any construct outside the subset (data symbols,
// constructors, parameter back-references, non-type template arguments)
// makes the whole name pass through unchanged rather than risking a
// wrong decode.

type msvcParser struct {
	s     string
	pos   int
	names []string // back-reference table: first ten names, in order seen
}

func demangleMSVC(name string) string {
	if !strings.HasPrefix(name, "?") {
		return name
	}
	p := &msvcParser{s: name, pos: 1}
	qualified, ok := p.readQualifiedName()
	if !ok {
		return name
	}
	params, ok := p.readFunctionType()
	if !ok {
		return name
	}
	return qualified + "(" + strings.Join(params, ", ") + ")"
}

func (p *msvcParser) eof() bool { return p.pos >= len(p.s) }

func (p *msvcParser) peek() byte { return p.s[p.pos] }

func (p *msvcParser) next() byte {
	c := p.s[p.pos]
	p.pos++
	return c
}

func (p *msvcParser) rest() string { return p.s[p.pos:] }

func (p *msvcParser) remember(name string) {
	if len(p.names) < 10 {
		p.names = append(p.names, name)
	}
}

// readQualifiedName reads a name followed by its scope chain, each
// component terminated by '@', the whole list terminated by a bare '@'
// (the second half of the "@@" marker). Scopes are innermost-first on
// the wire and rendered outermost-first.
func (p *msvcParser) readQualifiedName() (string, bool) {
	var comps []string
	for {
		if p.eof() {
			return "", false
		}
		if p.peek() == '@' {
			p.pos++
			break
		}
		c, ok := p.readComponent()
		if !ok {
			return "", false
		}
		comps = append(comps, c)
	}
	if len(comps) == 0 {
		return "", false
	}
	var b strings.Builder
	for i := len(comps) - 1; i >= 1; i-- {
		b.WriteString(comps[i])
		b.WriteString("::")
	}
	b.WriteString(comps[0])
	return b.String(), true
}

// readComponent reads one name component: a single-digit back-reference
// (which consumes no terminator), a "?$" template name, or a plain
// identifier up to its '@'. Identifiers and completed template names
// enter the back-reference table in order of appearance.
func (p *msvcParser) readComponent() (string, bool) {
	c := p.peek()
	switch {
	case c >= '0' && c <= '9':
		p.pos++
		idx := int(c - '0')
		if idx >= len(p.names) {
			return "", false
		}
		return p.names[idx], true
	case strings.HasPrefix(p.rest(), "?$"):
		return p.readTemplateName()
	default:
		idx := strings.IndexByte(p.rest(), '@')
		if idx <= 0 {
			return "", false
		}
		name := p.rest()[:idx]
		p.pos += idx + 1
		p.remember(name)
		return name, true
	}
}

// readTemplateName reads "?$base@arg1arg2...@", rendering
// base<arg1, arg2, ...>. Only type arguments are in the subset;
// non-type arguments ("$0..." and friends) fail the decode.
func (p *msvcParser) readTemplateName() (string, bool) {
	p.pos += 2
	idx := strings.IndexByte(p.rest(), '@')
	if idx <= 0 {
		return "", false
	}
	base := p.rest()[:idx]
	p.pos += idx + 1

	var args []string
	for {
		if p.eof() {
			return "", false
		}
		if p.peek() == '@' {
			p.pos++
			break
		}
		t, ok := p.readType()
		if !ok {
			return "", false
		}
		args = append(args, t)
	}
	full := base + "<" + strings.Join(args, ", ") + ">"
	p.remember(full)
	return full, true
}

// msvcStaticKind marks the member-kind codes for static members, which
// carry no 'this' qualifier before the calling convention.
func msvcStaticKind(c byte) bool {
	switch c {
	case 'C', 'D', 'K', 'L', 'S', 'T':
		return true
	}
	return false
}

// readFunctionType consumes the function encoding after the qualified
// name's "@@": member kind (or 'Y'/'Z' for globals), the 'this'
// qualifier for instance members, the calling convention, the return
// type (discarded — the display form omits it), and the parameter list
// up to its 'Z' terminator.
func (p *msvcParser) readFunctionType() ([]string, bool) {
	if p.eof() {
		return nil, false
	}
	kind := p.next()
	if kind < 'A' || kind > 'Z' {
		return nil, false
	}
	if kind != 'Y' && kind != 'Z' && !msvcStaticKind(kind) {
		// Instance member: optional 64-bit/restrict markers, then the
		// 'this' CV qualifier.
		for !p.eof() && (p.peek() == 'E' || p.peek() == 'F' || p.peek() == 'I') {
			p.pos++
		}
		if p.eof() {
			return nil, false
		}
		if cv := p.next(); cv < 'A' || cv > 'D' {
			return nil, false
		}
	}
	if p.eof() {
		return nil, false
	}
	if cc := p.next(); cc < 'A' || cc > 'Q' {
		return nil, false
	}
	if _, ok := p.readType(); !ok {
		return nil, false
	}

	if p.eof() {
		return nil, false
	}
	if p.peek() == 'X' {
		// Void parameter list.
		p.pos++
		if p.eof() || p.next() != 'Z' {
			return nil, false
		}
		return nil, true
	}

	var params []string
	for {
		if p.eof() {
			return nil, false
		}
		switch p.peek() {
		case '@':
			p.pos++
			if p.eof() || p.next() != 'Z' {
				return nil, false
			}
			return params, true
		case 'Z':
			// Variadic tail "ZZ".
			p.pos++
			if p.eof() || p.next() != 'Z' {
				return nil, false
			}
			return append(params, "..."), true
		}
		t, ok := p.readType()
		if !ok {
			return nil, false
		}
		params = append(params, t)
	}
}

// readType decodes one type encoding.
func (p *msvcParser) readType() (string, bool) {
	if p.eof() {
		return "", false
	}
	c := p.next()
	switch c {
	case 'C':
		return "signed char", true
	case 'D':
		return "char", true
	case 'E':
		return "unsigned char", true
	case 'F':
		return "short", true
	case 'G':
		return "unsigned short", true
	case 'H':
		return "int", true
	case 'I':
		return "unsigned int", true
	case 'J':
		return "long", true
	case 'K':
		return "unsigned long", true
	case 'M':
		return "float", true
	case 'N':
		return "double", true
	case 'O':
		return "long double", true
	case 'X':
		return "void", true
	case '_':
		if p.eof() {
			return "", false
		}
		switch p.next() {
		case 'N':
			return "bool", true
		case 'J':
			return "__int64", true
		case 'K':
			return "unsigned __int64", true
		case 'W':
			return "wchar_t", true
		}
		return "", false
	case '?':
		// CV-qualified value type, e.g. the "?A" prefix return types
		// carry; the qualifier itself is not displayed.
		if p.eof() {
			return "", false
		}
		if cv := p.next(); cv < 'A' || cv > 'D' {
			return "", false
		}
		return p.readType()
	case 'P', 'Q', 'A':
		// Pointer / const pointer / reference: optional 64-bit markers,
		// pointee CV, pointee type.
		suffix := "*"
		if c == 'A' {
			suffix = "&"
		}
		for !p.eof() && (p.peek() == 'E' || p.peek() == 'F' || p.peek() == 'I') {
			p.pos++
		}
		if p.eof() {
			return "", false
		}
		cv := p.next()
		if cv < 'A' || cv > 'D' {
			return "", false
		}
		inner, ok := p.readType()
		if !ok {
			return "", false
		}
		if cv == 'B' || cv == 'D' {
			inner += " const"
		}
		return inner + suffix, true
	case 'V', 'U', 'T':
		// class / struct / union; the keyword is not displayed.
		return p.readQualifiedName()
	case 'W':
		// Enum: 'W' + underlying-type digit + qualified name.
		if p.eof() {
			return "", false
		}
		if d := p.next(); d < '0' || d > '9' {
			return "", false
		}
		return p.readQualifiedName()
	}
	return "", false
}
