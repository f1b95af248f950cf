package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/openweald/weald/internal/fault"
)

// ValueKind discriminates the five value shapes the command grammar admits.
type ValueKind string

const (
	ValueIdentifier ValueKind = "identifier"
	ValueNumber     ValueKind = "number"
	ValueString     ValueKind = "string"
	ValueList       ValueKind = "list"
	ValueObject     ValueKind = "object"
)

// Value is one argument value of a parsed command.
type Value struct {
	Kind ValueKind
	Str  string  // identifier text or string payload
	Num  float64 // number payload
	List []Value
	Obj  map[string]Value
}

// Text returns the value's textual payload: identifiers and strings as-is,
// numbers formatted, composites empty.
func (v Value) Text() string {
	switch v.Kind {
	case ValueIdentifier, ValueString:
		return v.Str
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	}
	return ""
}

// Ident builds an identifier value.
func Ident(s string) Value { return Value{Kind: ValueIdentifier, Str: s} }

// Num builds a number value.
func Num(f float64) Value { return Value{Kind: ValueNumber, Num: f} }

// Str builds a string value.
func Str(s string) Value { return Value{Kind: ValueString, Str: s} }

// ListOf builds a list value.
func ListOf(vs ...Value) Value { return Value{Kind: ValueList, List: vs} }

// Command is one parsed line: `NAMESPACE.OP(k=v, ...)` or bare `OP(k=v, ...)`.
// Effect lines carry the SYSTEM namespace; event lines carry none.
type Command struct {
	Namespace string
	Op        string
	Args      map[string]Value
}

// Arg returns the named argument; the second return is false when absent.
func (c Command) Arg(name string) (Value, bool) {
	v, ok := c.Args[name]
	return v, ok
}

// ArgText returns the named argument's textual payload, "" when absent.
func (c Command) ArgText(name string) string {
	return c.Args[name].Text()
}

// ArgNum returns the named argument as a number. Identifiers and strings
// that parse as numbers coerce; anything else reads as 0.
func (c Command) ArgNum(name string) float64 {
	v, ok := c.Args[name]
	if !ok {
		return 0
	}
	if v.Kind == ValueNumber {
		return v.Num
	}
	f, _ := strconv.ParseFloat(v.Str, 64)
	return f
}

// String renders the canonical line form with arguments in key order.
func (c Command) String() string {
	var sb strings.Builder
	if c.Namespace != "" {
		sb.WriteString(c.Namespace)
		sb.WriteByte('.')
	}
	sb.WriteString(c.Op)
	sb.WriteByte('(')
	keys := make([]string, 0, len(c.Args))
	for k := range c.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		writeValue(&sb, c.Args[k])
	}
	sb.WriteByte(')')
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value) {
	switch v.Kind {
	case ValueIdentifier:
		sb.WriteString(v.Str)
	case ValueNumber:
		sb.WriteString(strconv.FormatFloat(v.Num, 'g', -1, 64))
	case ValueString:
		sb.WriteString(strconv.Quote(v.Str))
	case ValueList:
		sb.WriteByte('[')
		for i, e := range v.List {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, e)
		}
		sb.WriteByte(']')
	case ValueObject:
		sb.WriteByte('{')
		keys := make([]string, 0, len(v.Obj))
		for k := range v.Obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			writeValue(sb, v.Obj[k])
		}
		sb.WriteByte('}')
	}
}

// SystemLine renders an effect command under the SYSTEM namespace.
func SystemLine(op string, args map[string]Value) string {
	return Command{Namespace: "SYSTEM", Op: op, Args: args}.String()
}

// ParseCommand parses one command line. The grammar:
//
//	command    = [namespace "."] op "(" [arg {"," arg}] ")"
//	arg        = key "=" value
//	value      = identifier | number | string | list | object
//	list       = "[" [value {"," value}] "]"
//	object     = "{" [key ":" value {"," key ":" value}] "}"
//
// Identifiers admit dots ("npc.grenda", "place_tile.3.4"); the namespace is
// split off the head only when the remainder is all-uppercase, so verb heads
// like SYSTEM.APPLY_DAMAGE split while target identifiers never do.
func ParseCommand(line string) (Command, error) {
	p := &parser{src: line}
	cmd, err := p.command()
	if err != nil {
		return Command{}, fault.Wrap(fault.ParseError, "rules: parse command", err)
	}
	return cmd, nil
}

// ParseEffect parses an effect line, requiring the SYSTEM namespace.
func ParseEffect(line string) (Command, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return Command{}, err
	}
	if cmd.Namespace != "SYSTEM" {
		return Command{}, fault.Newf(fault.ParseError, "rules: parse effect",
			"effect line %q lacks the SYSTEM namespace", line)
	}
	return cmd, nil
}

// ── Parser internals ─────────────────────────────────────────────────────────

type parser struct {
	src string
	pos int
}

func (p *parser) command() (Command, error) {
	head, err := p.identifier()
	if err != nil {
		return Command{}, err
	}
	cmd := Command{Op: head, Args: map[string]Value{}}
	if ns, op, ok := strings.Cut(head, "."); ok && op == strings.ToUpper(op) {
		cmd.Namespace, cmd.Op = ns, op
	}
	if err := p.expect('('); err != nil {
		return Command{}, err
	}
	p.skipSpace()
	if p.peek() == ')' {
		p.pos++
		return cmd, p.end()
	}
	for {
		key, err := p.identifier()
		if err != nil {
			return Command{}, err
		}
		if err := p.expect('='); err != nil {
			return Command{}, err
		}
		val, err := p.value()
		if err != nil {
			return Command{}, err
		}
		cmd.Args[key] = val
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return cmd, p.end()
		default:
			return Command{}, p.errorf("expected ',' or ')'")
		}
	}
}

func (p *parser) value() (Value, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == '"':
		return p.stringLit()
	case c == '[':
		return p.list()
	case c == '{':
		return p.object()
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	case isIdentChar(c):
		s, err := p.identifier()
		if err != nil {
			return Value{}, err
		}
		return Ident(s), nil
	default:
		return Value{}, p.errorf("expected a value")
	}
}

func (p *parser) list() (Value, error) {
	p.pos++ // consume '['
	v := Value{Kind: ValueList}
	p.skipSpace()
	if p.peek() == ']' {
		p.pos++
		return v, nil
	}
	for {
		elem, err := p.value()
		if err != nil {
			return Value{}, err
		}
		v.List = append(v.List, elem)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return v, nil
		default:
			return Value{}, p.errorf("expected ',' or ']'")
		}
	}
}

func (p *parser) object() (Value, error) {
	p.pos++ // consume '{'
	v := Value{Kind: ValueObject, Obj: map[string]Value{}}
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return v, nil
	}
	for {
		key, err := p.identifier()
		if err != nil {
			return Value{}, err
		}
		if err := p.expect(':'); err != nil {
			return Value{}, err
		}
		field, err := p.value()
		if err != nil {
			return Value{}, err
		}
		v.Obj[key] = field
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return v, nil
		default:
			return Value{}, p.errorf("expected ',' or '}'")
		}
	}
}

func (p *parser) stringLit() (Value, error) {
	start := p.pos
	p.pos++ // consume opening quote
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '"':
			p.pos++
			return Str(sb.String()), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.src) {
				break
			}
			sb.WriteByte(p.src[p.pos])
			p.pos++
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	p.pos = start
	return Value{}, p.errorf("unterminated string")
}

func (p *parser) number() (Value, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		p.pos = start
		return Value{}, p.errorf("malformed number")
	}
	return Num(f), nil
}

func (p *parser) identifier() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && isIdentChar(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected an identifier")
	}
	return p.src[start:p.pos], nil
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return p.errorf("expected %q", string(c))
	}
	p.pos++
	return nil
}

func (p *parser) end() error {
	p.skipSpace()
	if p.pos != len(p.src) {
		return p.errorf("trailing input")
	}
	return nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("at offset %d of %q: %s", p.pos, p.src, fmt.Sprintf(format, args...))
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_' || c == '.'
}
