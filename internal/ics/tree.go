package ics

// Component is a node of the BEGIN/END tree. Props and Components are nil
// when empty.
type Component struct {
	Name       string        `json:"name"`
	Props      []ContentLine `json:"props,omitempty"`
	Components []*Component  `json:"components,omitempty"`
}

// Children returns the sub-components with the given name, in order.
func (c *Component) Children(name string) []*Component {
	var out []*Component
	for _, sub := range c.Components {
		if sub.Name == name {
			out = append(out, sub)
		}
	}
	return out
}

// BuildTree consumes content lines with a single forward cursor and returns
// the root component. Lines after the root's END are ignored.
func BuildTree(lines []ContentLine) (*Component, error) {
	b := &treeBuilder{lines: lines}
	if !b.next() {
		return nil, &ParseError{Msg: "empty calendar"}
	}
	return b.component()
}

type treeBuilder struct {
	lines  []ContentLine
	cursor int
	cur    ContentLine
}

func (b *treeBuilder) next() bool {
	if b.cursor >= len(b.lines) {
		return false
	}
	b.cur = b.lines[b.cursor]
	b.cursor++
	return true
}

func (b *treeBuilder) component() (*Component, error) {
	if b.cur.Name != "begin" {
		return nil, &ParseError{Line: b.cur.Line, Msg: "expected BEGIN, got " + b.cur.Name}
	}
	comp := &Component{Name: b.cur.Value}

	for {
		if !b.next() {
			return nil, &ParseError{Msg: "unexpected end of input, missing END:" + comp.Name}
		}
		switch b.cur.Name {
		case "end":
			if b.cur.Value != comp.Name {
				return nil, &ParseError{Line: b.cur.Line, Msg: "expected END:" + comp.Name + ", got END:" + b.cur.Value}
			}
			return comp, nil
		case "begin":
			sub, err := b.component()
			if err != nil {
				return nil, err
			}
			comp.Components = append(comp.Components, sub)
		default:
			prop := b.cur
			if len(prop.Params) == 0 {
				prop.Params = nil
			}
			comp.Props = append(comp.Props, prop)
		}
	}
}
