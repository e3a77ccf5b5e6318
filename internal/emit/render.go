package emit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Banner opens every generated Rust file.
const Banner = "/* automatically generated by ffigen */"

// RenderRust writes the items as one Rust source file. Extern items are
// gathered into a single extern block at the end.
func RenderRust(w io.Writer, out *Output) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n", Banner)

	var externs []Item
	for _, it := range out.Items {
		if it.Extern {
			externs = append(externs, it)
			continue
		}
		if it.Text == "" {
			continue
		}
		fmt.Fprintf(bw, "\n%s", it.Text)
	}

	if len(externs) > 0 {
		bw.WriteString("\n")
		for _, l := range out.Links {
			if l.Kind == "dylib" {
				fmt.Fprintf(bw, "#[link(name = %q)]\n", l.Name)
			} else {
				fmt.Fprintf(bw, "#[link(name = %q, kind = %q)]\n", l.Name, l.Kind)
			}
		}
		bw.WriteString("unsafe extern \"C\" {\n")
		for _, it := range externs {
			for _, line := range strings.Split(strings.TrimSuffix(it.Text, "\n"), "\n") {
				fmt.Fprintf(bw, "    %s\n", line)
			}
		}
		bw.WriteString("}\n")
	}
	return bw.Flush()
}

// RenderJSON writes the item list as the JSON IR.
func RenderJSON(w io.Writer, out *Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Rust renders out to a string.
func (out *Output) Rust() string {
	var sb strings.Builder
	_ = RenderRust(&sb, out)
	return sb.String()
}

// Find returns the first item with the given Rust name.
func (out *Output) Find(name string) (Item, bool) {
	for _, it := range out.Items {
		if it.Name == name && it.Kind != ItemForward {
			return it, true
		}
	}
	return Item{}, false
}
