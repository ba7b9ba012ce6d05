package registry

import (
	"strings"
	"unicode"
)

// Snippet is the executable form of an action's code. The source is a single
// function expression with type annotations removed, ready to be spliced into
// the generated program as a value.
type Snippet struct {
	Source string

	params   []string
	variadic bool
}

// Arity returns the number of declared parameters, or -1 when the last one is
// a rest parameter and any count is accepted.
func (s Snippet) Arity() int {
	if s.variadic {
		return -1
	}
	return len(s.params)
}

// NewSnippet normalizes action code into a Snippet.
func NewSnippet(code string) Snippet {
	src := strings.TrimSpace(StripTypes(code))
	src = strings.TrimSuffix(src, ";")
	src = strings.TrimSpace(strings.TrimPrefix(src, "export default "))
	src = strings.TrimSpace(strings.TrimPrefix(src, "export "))

	params := parseParams(src)
	variadic := len(params) > 0 && strings.HasPrefix(params[len(params)-1], "...")
	for i, p := range params {
		params[i] = strings.TrimPrefix(p, "...")
	}
	return Snippet{Source: src, params: params, variadic: variadic}
}

// StripTypes removes structural type annotations from a function snippet:
// parameter and return annotations, optional markers, variable annotations,
// "as" casts and non-null assertions. It works on the text, never evaluating
// it, and leaves strings, comments and conditional expressions untouched.
func StripTypes(code string) string {
	s := newScanner(code)
	s.stripParamLists()
	s.stripVariableAnnotations()
	s.stripCasts()
	s.stripNonNull()
	return s.result()
}

type scanner struct {
	src  []byte
	code []bool // true where the byte is outside strings, comments and regex literals
	drop []bool
	pair map[int]int // index of '(' -> index of matching ')'
}

func newScanner(src string) *scanner {
	s := &scanner{
		src:  []byte(src),
		code: make([]bool, len(src)),
		drop: make([]bool, len(src)),
		pair: make(map[int]int),
	}
	s.markCode()
	s.matchParens()
	return s
}

func (s *scanner) markCode() {
	const (
		normal = iota
		single
		double
		template
		lineComment
		blockComment
		regex
	)
	state := normal
	inClass := false
	for i := 0; i < len(s.src); i++ {
		c := s.src[i]
		switch state {
		case normal:
			switch {
			case c == '\'':
				state = single
			case c == '"':
				state = double
			case c == '`':
				state = template
			case c == '/' && i+1 < len(s.src) && s.src[i+1] == '/':
				state = lineComment
			case c == '/' && i+1 < len(s.src) && s.src[i+1] == '*':
				state = blockComment
			case c == '/' && s.regexAllowed(i):
				state = regex
				inClass = false
			default:
				s.code[i] = true
			}
		case single, double, template:
			if c == '\\' {
				i++
			} else if (state == single && c == '\'') || (state == double && c == '"') || (state == template && c == '`') {
				state = normal
			}
		case lineComment:
			if c == '\n' {
				state = normal
				s.code[i] = true
			}
		case blockComment:
			if c == '*' && i+1 < len(s.src) && s.src[i+1] == '/' {
				i++
				state = normal
			}
		case regex:
			switch {
			case c == '\\':
				i++
			case c == '[':
				inClass = true
			case c == ']':
				inClass = false
			case c == '/' && !inClass:
				state = normal
			}
		}
	}
}

// regexAllowed reports whether a '/' at i starts a regular expression literal,
// judged by the previous significant character.
func (s *scanner) regexAllowed(i int) bool {
	for j := i - 1; j >= 0; j-- {
		c := s.src[j]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		if !s.code[j] {
			return false
		}
		if isIdentByte(c) {
			end := j + 1
			for j >= 0 && isIdentByte(s.src[j]) {
				j--
			}
			return regexKeywords[string(s.src[j+1:end])]
		}
		return strings.IndexByte("(,=:[!&|?{};+-*%<>~^", c) >= 0
	}
	return true
}

// regexKeywords may directly precede a regular expression literal.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "of": true, "void": true, "yield": true, "await": true,
}

func (s *scanner) matchParens() {
	var stack []int
	for i, c := range s.src {
		if !s.code[i] {
			continue
		}
		switch c {
		case '(':
			stack = append(stack, i)
		case ')':
			if len(stack) > 0 {
				open := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				s.pair[open] = i
			}
		}
	}
}

// nextSignificant returns the index of the first code byte at or after i that
// is not whitespace, or len(src).
func (s *scanner) nextSignificant(i int) int {
	for ; i < len(s.src); i++ {
		c := s.src[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		return i
	}
	return len(s.src)
}

func (s *scanner) prevSignificant(i int) int {
	for i--; i >= 0; i-- {
		c := s.src[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			continue
		}
		return i
	}
	return -1
}

func (s *scanner) hasArrowAt(i int) bool {
	return i+1 < len(s.src) && s.code[i] && s.src[i] == '=' && s.src[i+1] == '>'
}

// precededByFunction reports whether the '(' at open belongs to a function
// declaration or expression: "function", "function name" or "function name<T>".
func (s *scanner) precededByFunction(open int) bool {
	j := s.prevSignificant(open)
	if j >= 0 && s.src[j] == '>' {
		depth := 0
		for ; j >= 0; j-- {
			if s.src[j] == '>' {
				depth++
			} else if s.src[j] == '<' {
				depth--
				if depth == 0 {
					break
				}
			}
		}
		j = s.prevSignificant(j)
	}
	end := j + 1
	for j >= 0 && isIdentByte(s.src[j]) {
		j--
	}
	word := string(s.src[j+1 : end])
	if word == "function" {
		return true
	}
	j = s.prevSignificant(j + 1)
	end = j + 1
	for j >= 0 && isIdentByte(s.src[j]) {
		j--
	}
	return string(s.src[j+1:end]) == "function"
}

type typeMode int

const (
	modeParam typeMode = iota
	modeReturn
	modeVariable
	modeCast
)

// scanType returns the index at which a type starting at i ends.
func (s *scanner) scanType(i, limit int, mode typeMode) int {
	depth := 0
	seen := false
	for ; i < limit; i++ {
		c := s.src[i]
		if !s.code[i] {
			seen = true
			continue
		}
		if s.hasArrowAt(i) {
			if depth == 0 && mode == modeReturn && seen {
				return i
			}
			i++
			continue
		}
		if depth == 0 {
			switch mode {
			case modeParam:
				if c == ',' || c == ')' || c == '=' {
					return i
				}
			case modeReturn:
				if c == '{' && seen && !s.continuesType(i) {
					return i
				}
				if c == ';' {
					return i
				}
			case modeVariable:
				if c == '=' || c == ';' || c == ',' || c == '\n' {
					return i
				}
			case modeCast:
				if !isIdentByte(c) && c != '.' && c != '<' && c != '[' && c != ' ' && c != '|' {
					return i
				}
				if c == ' ' {
					next := s.nextSignificant(i)
					if next >= limit || s.src[next] != '|' {
						if !(seen && s.src[s.prevSignificant(i)] == '|') {
							return i
						}
					}
				}
			}
		}
		switch c {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			if depth == 0 {
				return i
			}
			depth--
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			seen = true
		}
	}
	return limit
}

// continuesType reports whether the '{' at i is still part of a type, as in
// "A | { b: string }".
func (s *scanner) continuesType(i int) bool {
	p := s.prevSignificant(i)
	return p >= 0 && strings.IndexByte("|&:,<(", s.src[p]) >= 0
}

func (s *scanner) dropRange(from, to int) {
	for to > from && (s.src[to-1] == ' ' || s.src[to-1] == '\t') {
		to--
	}
	for i := from; i < to; i++ {
		s.drop[i] = true
	}
}

func (s *scanner) stripParamLists() {
	for open, close := range s.pair {
		next := s.nextSignificant(close + 1)
		isParams := false
		returnType := -1
		switch {
		case next < len(s.src) && s.hasArrowAt(next):
			isParams = true
		case next < len(s.src) && s.src[next] == ':' && s.code[next]:
			end := s.scanType(next+1, len(s.src), modeReturn)
			if end < len(s.src) && (s.hasArrowAt(end) || (s.src[end] == '{' && s.precededByFunction(open))) {
				isParams = true
				returnType = next
				s.dropRange(returnType, end)
			}
		case next < len(s.src) && s.src[next] == '{':
			isParams = s.precededByFunction(open)
		}
		if isParams {
			s.stripParams(open, close)
		}
	}
}

// stripParams removes annotations from each parameter between open and close.
func (s *scanner) stripParams(open, close int) {
	start := open + 1
	depth := 0
	for i := start; i <= close; i++ {
		if !s.code[i] {
			continue
		}
		c := s.src[i]
		if s.hasArrowAt(i) {
			i++
			continue
		}
		if i == close || (depth == 0 && c == ',') {
			s.stripParam(start, i)
			start = i + 1
			continue
		}
		switch c {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			depth--
		}
	}
}

func (s *scanner) stripParam(start, end int) {
	depth := 0
	for i := start; i < end; i++ {
		if !s.code[i] {
			continue
		}
		c := s.src[i]
		switch c {
		case '(', '[', '{', '<':
			depth++
			continue
		case ')', ']', '}', '>':
			depth--
			continue
		}
		if depth != 0 {
			continue
		}
		if c == '=' {
			return
		}
		if c == ':' {
			typeEnd := s.scanType(i+1, end, modeParam)
			from := i
			if p := s.prevSignificant(i); p >= start && s.src[p] == '?' {
				from = p
			}
			s.dropRange(from, typeEnd)
			return
		}
	}
}

func (s *scanner) stripVariableAnnotations() {
	for _, kw := range []string{"const", "let", "var"} {
		for i := 0; i+len(kw) < len(s.src); i++ {
			if !s.code[i] || !s.wordAt(i, kw) {
				continue
			}
			j := s.nextSignificant(i + len(kw))
			k := j
			for k < len(s.src) && isIdentByte(s.src[k]) {
				k++
			}
			if k == j {
				continue
			}
			colon := s.nextSignificant(k)
			if colon < len(s.src) && s.code[colon] && s.src[colon] == ':' {
				end := s.scanType(colon+1, len(s.src), modeVariable)
				s.dropRange(colon, end)
			}
		}
	}
}

func (s *scanner) stripCasts() {
	for i := 1; i+2 < len(s.src); i++ {
		if !s.code[i] || !s.wordAt(i, "as") {
			continue
		}
		p := s.prevSignificant(i)
		if p < 0 || p == i-1 {
			continue
		}
		pc := s.src[p]
		if !isIdentByte(pc) && pc != ')' && pc != ']' && pc != '}' {
			continue
		}
		typeStart := s.nextSignificant(i + 2)
		if typeStart == i+2 || typeStart >= len(s.src) {
			continue
		}
		end := s.scanType(typeStart, len(s.src), modeCast)
		s.dropRange(p+1, end)
	}
}

func (s *scanner) stripNonNull() {
	for i := 1; i+1 < len(s.src); i++ {
		if !s.code[i] || s.src[i] != '!' {
			continue
		}
		prev := s.src[i-1]
		next := s.src[i+1]
		if (isIdentByte(prev) || prev == ')' || prev == ']') && strings.IndexByte(".)],;[", next) >= 0 {
			s.drop[i] = true
		}
	}
}

// wordAt reports whether word starts at i as a whole identifier.
func (s *scanner) wordAt(i int, word string) bool {
	if i+len(word) > len(s.src) || string(s.src[i:i+len(word)]) != word {
		return false
	}
	if i > 0 && isIdentByte(s.src[i-1]) {
		return false
	}
	if i+len(word) < len(s.src) && isIdentByte(s.src[i+len(word)]) {
		return false
	}
	return true
}

func (s *scanner) result() string {
	var b strings.Builder
	b.Grow(len(s.src))
	for i, c := range s.src {
		if !s.drop[i] {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

// parseParams extracts the parameter names of the leading function in src.
func parseParams(src string) []string {
	s := strings.TrimSpace(src)
	s = strings.TrimSpace(strings.TrimPrefix(s, "async"))
	if strings.HasPrefix(s, "function") {
		idx := strings.IndexByte(s, '(')
		if idx < 0 {
			return nil
		}
		s = s[idx:]
	}
	if !strings.HasPrefix(s, "(") {
		// single bare parameter arrow: input => ...
		arrow := strings.Index(s, "=>")
		if arrow <= 0 {
			return nil
		}
		name := strings.TrimSpace(s[:arrow])
		if name == "" {
			return nil
		}
		return []string{name}
	}

	depth := 0
	var params []string
	start := 1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				if p := strings.TrimSpace(s[start:i]); p != "" {
					params = append(params, paramName(p))
				}
				return params
			}
		case ',':
			if depth == 1 {
				params = append(params, paramName(strings.TrimSpace(s[start:i])))
				start = i + 1
			}
		}
	}
	return params
}

func paramName(p string) string {
	if idx := strings.IndexByte(p, '='); idx > 0 {
		p = p[:idx]
	}
	return strings.TrimSpace(p)
}
