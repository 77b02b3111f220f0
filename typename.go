package taskscope

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/muir/reflectutils"
)

const (
	argsOpen  = '['
	argsClose = ']'
	argsSep   = '|'
	arityMark = '`'
)

const reservedChars = "[]|`"

// TypeName identifies a handler implementation. It plays the role of a
// runtime type reference: a plain name, a closed generic with concrete
// arguments, or an open generic definition with only its arity known.
//
//	Greet                     simple
//	Dict[String|List[Int]]    closed generic, two arguments, second nested
//	Dict`2                    open generic definition of arity 2
//
// Sibling arguments are separated by '|' while nested argument lists are
// delimited by brackets, so the two can never be confused.
type TypeName struct {
	Name  string
	Args  []TypeName
	Arity int
}

// Simple returns a non generic type name.
func Simple(name string) TypeName {
	return TypeName{Name: name}
}

// Generic returns a closed generic type name.
func Generic(name string, args ...TypeName) TypeName {
	if len(args) == 0 {
		return Simple(name)
	}
	cp := make([]TypeName, len(args))
	copy(cp, args)
	return TypeName{Name: name, Args: cp, Arity: len(cp)}
}

// OpenGeneric returns a generic definition with the given arity.
func OpenGeneric(name string, arity int) TypeName {
	return TypeName{Name: name, Arity: arity}
}

// IsGenericDefinition reports whether t has unbound type arguments.
func (t TypeName) IsGenericDefinition() bool {
	return t.Arity > 0 && len(t.Args) == 0
}

// IsGeneric reports whether t is a closed generic.
func (t TypeName) IsGeneric() bool {
	return len(t.Args) > 0
}

// IsZero reports whether t is the zero value.
func (t TypeName) IsZero() bool {
	return t.Name == "" && t.Arity == 0 && len(t.Args) == 0
}

// Definition returns the generic definition a closed generic was built from.
// Non generic names are returned unchanged.
func (t TypeName) Definition() TypeName {
	if !t.IsGeneric() {
		return t
	}
	return OpenGeneric(t.Name, len(t.Args))
}

// Close binds the arguments of a generic definition.
func (t TypeName) Close(args ...TypeName) (TypeName, error) {
	if !t.IsGenericDefinition() {
		return TypeName{}, NewError(ErrTypeNameMalformed, "type is not a generic definition", nil, map[string]any{
			"type_name": Encode(t),
		})
	}
	if len(args) != t.Arity {
		return TypeName{}, NewError(ErrTypeNameMalformed, "generic argument count mismatch", nil, map[string]any{
			"type_name": Encode(t),
			"expected":  t.Arity,
			"actual":    len(args),
		})
	}
	for _, arg := range args {
		if err := arg.Validate(); err != nil {
			return TypeName{}, err
		}
		if arg.IsGenericDefinition() {
			return TypeName{}, NewError(ErrTypeNameMalformed, "generic argument must be closed", nil, map[string]any{
				"type_name": Encode(t),
				"argument":  Encode(arg),
			})
		}
	}
	return Generic(t.Name, args...), nil
}

// Equal compares names case sensitively, including all nested arguments.
func (t TypeName) Equal(o TypeName) bool {
	if t.Name != o.Name || t.Arity != o.Arity || len(t.Args) != len(o.Args) {
		return false
	}
	for i := range t.Args {
		if !t.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// Validate checks the structural invariants of t.
func (t TypeName) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return NewError(ErrTypeNameMalformed, "type name cannot be empty", nil, nil)
	}
	if strings.ContainsAny(t.Name, reservedChars) {
		return NewError(ErrTypeNameMalformed, "type name contains reserved characters", nil, map[string]any{
			"name":     t.Name,
			"reserved": reservedChars,
		})
	}
	if t.Arity < 0 {
		return NewError(ErrTypeNameMalformed, "negative generic arity", nil, map[string]any{"name": t.Name})
	}
	if len(t.Args) > 0 && t.Arity != len(t.Args) {
		return NewError(ErrTypeNameMalformed, "generic arity does not match arguments", nil, map[string]any{
			"name":  t.Name,
			"arity": t.Arity,
			"args":  len(t.Args),
		})
	}
	for _, arg := range t.Args {
		if err := arg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (t TypeName) String() string {
	return Encode(t)
}

// Encode renders t as a flat task name.
func Encode(t TypeName) string {
	var sb strings.Builder
	encodeTo(&sb, t)
	return sb.String()
}

func encodeTo(sb *strings.Builder, t TypeName) {
	sb.WriteString(t.Name)
	switch {
	case len(t.Args) > 0:
		sb.WriteByte(argsOpen)
		for i, arg := range t.Args {
			if i > 0 {
				sb.WriteByte(argsSep)
			}
			encodeTo(sb, arg)
		}
		sb.WriteByte(argsClose)
	case t.Arity > 0:
		sb.WriteByte(arityMark)
		sb.WriteString(strconv.Itoa(t.Arity))
	}
}

// Decode parses a task name produced by Encode.
func Decode(s string) (TypeName, error) {
	p := &typeNameParser{src: s}
	t, err := p.parse()
	if err != nil {
		return TypeName{}, err
	}
	if p.pos != len(s) {
		return TypeName{}, p.fail("unexpected trailing characters")
	}
	return t, nil
}

// MustDecode is like Decode but panics on malformed input. Use it for
// literals only.
func MustDecode(s string) TypeName {
	t, err := Decode(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TryGetOpenGenericName strips the trailing argument list of a closed
// generic name and returns the encoded generic definition, e.g.
// "Dict[String|List[Int]]" yields "Dict`2". It returns false when the name
// has no bracketed argument list or the brackets do not balance.
func TryGetOpenGenericName(closedName string) (string, bool) {
	if !strings.HasSuffix(closedName, string(argsClose)) {
		return "", false
	}

	depth := 0
	arity := 1
	start := -1
	for i := len(closedName) - 1; i >= 0; i-- {
		switch closedName[i] {
		case argsClose:
			depth++
		case argsOpen:
			depth--
			if depth == 0 {
				start = i
			}
		case argsSep:
			if depth == 1 {
				arity++
			}
		}
		if start >= 0 {
			break
		}
		if depth < 0 {
			return "", false
		}
	}

	if start <= 0 || start == len(closedName)-2 {
		return "", false
	}

	name := closedName[:start]
	if strings.ContainsAny(name, reservedChars) {
		return "", false
	}
	return Encode(OpenGeneric(name, arity)), true
}

type typeNameParser struct {
	src string
	pos int
}

func (p *typeNameParser) fail(reason string) error {
	return NewError(ErrTypeNameMalformed, fmt.Sprintf("malformed type name: %s", reason), nil, map[string]any{
		"type_name": p.src,
		"offset":    p.pos,
	})
}

func (p *typeNameParser) parse() (TypeName, error) {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune(reservedChars, rune(p.src[p.pos])) {
		p.pos++
	}
	name := p.src[start:p.pos]
	if strings.TrimSpace(name) == "" {
		return TypeName{}, p.fail("empty name")
	}

	if p.pos == len(p.src) {
		return Simple(name), nil
	}

	switch p.src[p.pos] {
	case arityMark:
		p.pos++
		digits := p.pos
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
		arity, err := strconv.Atoi(p.src[digits:p.pos])
		if err != nil || arity <= 0 {
			return TypeName{}, p.fail("invalid generic arity")
		}
		return OpenGeneric(name, arity), nil
	case argsOpen:
		p.pos++
		var args []TypeName
		for {
			arg, err := p.parse()
			if err != nil {
				return TypeName{}, err
			}
			if arg.IsGenericDefinition() {
				return TypeName{}, p.fail("generic argument must be closed")
			}
			args = append(args, arg)
			if p.pos >= len(p.src) {
				return TypeName{}, p.fail("unterminated argument list")
			}
			switch p.src[p.pos] {
			case argsSep:
				p.pos++
				continue
			case argsClose:
				p.pos++
				return Generic(name, args...), nil
			default:
				return TypeName{}, p.fail("unexpected character in argument list")
			}
		}
	default:
		return Simple(name), nil
	}
}

// TypeNameOf derives a simple type name from the Go type T. Pointer types
// are dereferenced and Go type arguments of instantiated generics are
// dropped; build generic identities explicitly with Generic.
func TypeNameOf[T any]() (TypeName, error) {
	return TypeNameFor(reflect.TypeOf((*T)(nil)).Elem())
}

// MustTypeNameOf is like TypeNameOf but panics when T is unnamed.
func MustTypeNameOf[T any]() TypeName {
	t, err := TypeNameOf[T]()
	if err != nil {
		panic(err)
	}
	return t
}

// TypeNameFor derives a simple type name from a reflect.Type.
func TypeNameFor(t reflect.Type) (TypeName, error) {
	if t == nil {
		return TypeName{}, NewError(ErrDescriptorInvalid, "cannot derive a type name from nil", nil, nil)
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if i := strings.IndexByte(name, argsOpen); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return TypeName{}, NewError(ErrDescriptorInvalid, "cannot derive a type name from an unnamed type", nil, map[string]any{
			"go_type": reflectutils.TypeName(t),
		})
	}
	return Simple(name), nil
}
