package value

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/go-aotcheck/internal/runtime/tensor"
)

// TreeSpec describes the nesting of a Value without its data. Compiled
// programs store it so flat output lists can be regrouped.
type TreeSpec struct {
	Leaf     bool
	Children []TreeSpec
}

func Leaf() TreeSpec {
	return TreeSpec{Leaf: true}
}

func Node(children ...TreeSpec) TreeSpec {
	return TreeSpec{Children: append([]TreeSpec{}, children...)}
}

// NumLeaves counts the tensors a value of this shape holds.
func (s TreeSpec) NumLeaves() int {
	if s.Leaf {
		return 1
	}

	n := 0
	for _, c := range s.Children {
		n += c.NumLeaves()
	}

	return n
}

// Unflatten regroups leaves (depth-first order) into a Value shaped like s.
func (s TreeSpec) Unflatten(leaves []*tensor.Tensor) (Value, error) {
	if len(leaves) != s.NumLeaves() {
		return Value{}, fmt.Errorf("value: tree %s needs %d leaves, got %d", s, s.NumLeaves(), len(leaves))
	}

	v, rest := s.build(leaves)
	if len(rest) != 0 {
		return Value{}, errors.New("value: unflatten left unused leaves")
	}

	return v, nil
}

func (s TreeSpec) build(leaves []*tensor.Tensor) (Value, []*tensor.Tensor) {
	if s.Leaf {
		return Of(leaves[0]), leaves[1:]
	}

	items := make([]Value, len(s.Children))
	for i, c := range s.Children {
		items[i], leaves = c.build(leaves)
	}

	return Value{items: items}, leaves
}

// String encodes the tree compactly: "*" for a leaf, "(a,b)" for a node.
func (s TreeSpec) String() string {
	if s.Leaf {
		return "*"
	}

	parts := make([]string, len(s.Children))
	for i, c := range s.Children {
		parts[i] = c.String()
	}

	return "(" + strings.Join(parts, ",") + ")"
}

// ParseTreeSpec decodes the String form.
func ParseTreeSpec(raw string) (TreeSpec, error) {
	p := specParser{src: strings.ReplaceAll(raw, " ", "")}

	s, err := p.parse()
	if err != nil {
		return TreeSpec{}, err
	}

	if p.pos != len(p.src) {
		return TreeSpec{}, fmt.Errorf("value: trailing input in tree spec %q at %d", raw, p.pos)
	}

	return s, nil
}

type specParser struct {
	src string
	pos int
}

func (p *specParser) parse() (TreeSpec, error) {
	if p.pos >= len(p.src) {
		return TreeSpec{}, fmt.Errorf("value: unexpected end of tree spec %q", p.src)
	}

	switch p.src[p.pos] {
	case '*':
		p.pos++
		return Leaf(), nil
	case '(':
		p.pos++

		var children []TreeSpec
		for p.pos < len(p.src) && p.src[p.pos] != ')' {
			c, err := p.parse()
			if err != nil {
				return TreeSpec{}, err
			}

			children = append(children, c)

			if p.pos < len(p.src) && p.src[p.pos] == ',' {
				p.pos++
			}
		}

		if p.pos >= len(p.src) {
			return TreeSpec{}, fmt.Errorf("value: unclosed '(' in tree spec %q", p.src)
		}

		p.pos++

		return Node(children...), nil
	default:
		return TreeSpec{}, fmt.Errorf("value: unexpected %q in tree spec %q at %d", p.src[p.pos], p.src, p.pos)
	}
}
