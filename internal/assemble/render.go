package assemble

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// renderData renders a JSON document as markdown. It decodes through yaml.v3
// nodes so object keys keep the order the model wrote them in.
func renderData(doc string) string {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(doc), &root); err != nil || len(root.Content) == 0 {
		return "```json\n" + strings.TrimSpace(doc) + "\n```\n"
	}

	var b strings.Builder
	n := root.Content[0]
	if n.Kind != yaml.MappingNode {
		writeList(&b, n, 0)
		return b.String()
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		label, v := fieldLabel(n.Content[i].Value), n.Content[i+1]
		if v.Kind == yaml.ScalarNode {
			fmt.Fprintf(&b, "**%s:** %s\n\n", label, v.Value)
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n", label)
		writeList(&b, v, 0)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeList(b *strings.Builder, n *yaml.Node, level int) {
	indent := strings.Repeat("  ", level)
	switch n.Kind {
	case yaml.ScalarNode:
		fmt.Fprintf(b, "%s- %s\n", indent, n.Value)
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if item.Kind == yaml.SequenceNode {
				writeList(b, item, level+1)
				continue
			}
			writeList(b, item, level)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			label, v := fieldLabel(n.Content[i].Value), n.Content[i+1]
			if v.Kind == yaml.ScalarNode {
				fmt.Fprintf(b, "%s- **%s:** %s\n", indent, label, v.Value)
				continue
			}
			fmt.Fprintf(b, "%s- **%s:**\n", indent, label)
			writeList(b, v, level+1)
		}
	case yaml.AliasNode:
		if n.Alias != nil {
			writeList(b, n.Alias, level)
		}
	}
}

// fieldLabel turns "Success_Criteria_EN" into "Success Criteria EN".
func fieldLabel(key string) string {
	return strings.Join(strings.FieldsFunc(key, func(r rune) bool { return r == '_' }), " ")
}
