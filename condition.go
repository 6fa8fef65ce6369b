package pgsupporter

import "strings"

// Combinator joins a condition to the sibling before it.
type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
)

// Fragment is a rendered condition: SQL text with %s placeholders, the
// combinator used to join it to preceding siblings, and the parameter
// values in placeholder order.
type Fragment struct {
	SQL        string
	Combinator Combinator
	Values     []Value
}

// Condition is a node of a WHERE tree. It is implemented by *Part and *Group.
type Condition interface {
	// Render produces the fragment for the node. Rendering has no side
	// effects; calling it twice yields the same fragment.
	Render() (Fragment, error)

	condition()
}

// Part is a single "field op placeholder" comparison.
type Part struct {
	Field      string
	Operator   string
	Value      Value
	Combinator Combinator
}

// NewPart builds a comparison. value is classified with ValueOf.
func NewPart(field, operator string, value any, combinator Combinator) *Part {
	return &Part{
		Field:      field,
		Operator:   operator,
		Value:      ValueOf(value),
		Combinator: combinator,
	}
}

func (*Part) condition() {}

// Render implements Condition.
func (p *Part) Render() (Fragment, error) {
	return Fragment{
		SQL:        p.Field + " " + p.Operator + " " + p.Value.Placeholder(),
		Combinator: p.Combinator,
		Values:     []Value{p.Value},
	}, nil
}

// Group is an ordered list of conditions. A non-root group with more than
// one child renders wrapped in parentheses; the root group never does.
type Group struct {
	children   []Condition
	combinator Combinator
	root       bool
}

// NewGroup returns an empty nested group joined to its siblings by combinator.
func NewGroup(combinator Combinator) *Group {
	return &Group{combinator: combinator}
}

func newRootGroup() *Group {
	return &Group{combinator: And, root: true}
}

func (*Group) condition() {}

// Add appends c to the group.
func (g *Group) Add(c Condition) *Group {
	g.children = append(g.children, c)
	return g
}

// Where appends an AND-joined comparison.
func (g *Group) Where(field, operator string, value any) *Group {
	return g.Add(NewPart(field, operator, value, And))
}

// OrWhere appends an OR-joined comparison.
func (g *Group) OrWhere(field, operator string, value any) *Group {
	return g.Add(NewPart(field, operator, value, Or))
}

// Exists reports whether the group has at least one child.
func (g *Group) Exists() bool {
	return len(g.children) > 0
}

// Len returns the number of direct children.
func (g *Group) Len() int {
	return len(g.children)
}

// Render implements Condition. Each child after the first is preceded by
// its own combinator. An empty group fails with ErrEmptyCondition.
func (g *Group) Render() (Fragment, error) {
	if !g.Exists() {
		return Fragment{}, ErrEmptyCondition
	}

	var (
		sb     strings.Builder
		values []Value
	)
	for i, child := range g.children {
		frag, err := child.Render()
		if err != nil {
			return Fragment{}, err
		}
		if i > 0 {
			sb.WriteString(" " + string(frag.Combinator) + " ")
		}
		sb.WriteString(" " + frag.SQL + " ")
		values = append(values, frag.Values...)
	}

	text := sb.String()
	if !g.root && len(g.children) > 1 {
		text = "(" + text + ") "
	}

	return Fragment{SQL: text, Combinator: g.combinator, Values: values}, nil
}
