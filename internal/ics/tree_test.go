package ics

import (
	"errors"
	"sort"
	"strings"
	"testing"
)

func mustTree(t *testing.T, text string) *Component {
	t.Helper()
	lines, err := ContentLines(text)
	if err != nil {
		t.Fatalf("ContentLines: %v", err)
	}
	root, err := BuildTree(lines)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	return root
}

func TestBuildTree(t *testing.T) {
	root := mustTree(t, meetingCalendar)
	if root.Name != "VCALENDAR" {
		t.Fatalf("root = %s", root.Name)
	}
	if got := len(root.Props); got != 2 {
		t.Errorf("calendar props = %d, want 2", got)
	}
	tz := root.Children("VTIMEZONE")
	if len(tz) != 1 || len(tz[0].Components) != 3 {
		t.Fatalf("timezone subtree = %+v", tz)
	}
	if got := len(root.Children("VEVENT")); got != 2 {
		t.Errorf("events = %d, want 2", got)
	}
	for _, p := range tz[0].Props {
		if p.Params != nil {
			t.Errorf("%s: empty params not normalized to nil", p.Name)
		}
	}
	if tz[0].Components[0].Components != nil {
		t.Errorf("leaf component has non-nil Components")
	}
}

func TestBuildTreeErrors(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"no begin":    crlfJoin("VERSION:2.0"),
		"mismatch":    crlfJoin("BEGIN:VCALENDAR", "BEGIN:VEVENT", "END:VCALENDAR", "END:VEVENT"),
		"missing end": crlfJoin("BEGIN:VCALENDAR", "BEGIN:VEVENT", "END:VEVENT"),
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			lines, err := ContentLines(text)
			if err != nil {
				t.Fatalf("ContentLines: %v", err)
			}
			_, err = BuildTree(lines)
			if !errors.Is(err, ErrStructure) {
				t.Fatalf("err = %v, want ErrStructure", err)
			}
		})
	}
}

// canonical renders a tree with properties grouped by name and parameters
// sorted, the ordering freedom Encode is allowed.
func canonical(c *Component) string {
	var b strings.Builder
	var walk func(c *Component, depth int)
	walk = func(c *Component, depth int) {
		indent := strings.Repeat("  ", depth)
		b.WriteString(indent + c.Name + "\n")
		props := append([]ContentLine(nil), c.Props...)
		sort.SliceStable(props, func(i, j int) bool { return props[i].Name < props[j].Name })
		for _, p := range props {
			params := make([]string, 0, len(p.Params))
			for _, pa := range p.Params {
				params = append(params, pa.Name+"="+strings.Join(pa.Values, ","))
			}
			sort.Strings(params)
			b.WriteString(indent + "  " + p.Name + ";" + strings.Join(params, ";") + ":" + p.Value + "\n")
		}
		for _, sub := range c.Components {
			walk(sub, depth+1)
		}
	}
	walk(c, 0)
	return b.String()
}

func TestEncodeRoundTrip(t *testing.T) {
	for name, text := range map[string]string{"meetings": meetingCalendar, "generic": genericCalendar} {
		t.Run(name, func(t *testing.T) {
			root := mustTree(t, text)
			out, err := EncodeString(root)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !strings.HasPrefix(out, "BEGIN:VCALENDAR\r\n") {
				t.Errorf("output starts with %q", out[:min(len(out), 20)])
			}
			again := mustTree(t, out)
			if got, want := canonical(again), canonical(root); got != want {
				t.Errorf("round trip differs:\n%s\nwant:\n%s", got, want)
			}
		})
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := EncodeString(nil); err == nil {
		t.Fatal("expected error for nil component")
	}
}
