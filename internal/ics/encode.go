package ics

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	goical "github.com/emersion/go-ical"
)

// Encode writes the component tree as folded CRLF calendar text.
//
// Property values are written as stored, so a tree built by BuildTree
// round-trips. Properties are grouped by name on output: the order of
// same-name properties is kept, the order between different names is not.
func Encode(w io.Writer, root *Component) error {
	if root == nil {
		return fmt.Errorf("ics: encode: nil component")
	}
	cal := &goical.Calendar{Component: toGoical(root)}
	if err := goical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("ics: encode %s: %w", root.Name, err)
	}
	return nil
}

// EncodeString is Encode into a string.
func EncodeString(root *Component) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func toGoical(c *Component) *goical.Component {
	out := &goical.Component{Name: c.Name, Props: make(goical.Props)}
	for _, cl := range c.Props {
		prop := goical.NewProp(strings.ToUpper(cl.Name))
		prop.Value = cl.Value
		for _, p := range cl.Params {
			name := strings.ToUpper(p.Name)
			prop.Params[name] = append(prop.Params[name], p.Values...)
		}
		out.Props.Add(prop)
	}
	for _, sub := range c.Components {
		out.Children = append(out.Children, toGoical(sub))
	}
	return out
}
