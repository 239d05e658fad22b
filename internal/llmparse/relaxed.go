package llmparse

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxRelaxedDepth = 512

// deniedTokens marks text that looks like code or YAML tag/merge machinery
// rather than a data literal. Matching is case-insensitive.
var deniedTokens = []string{
	"__", "import ", "eval(", "exec(", "compile(", "lambda", "getattr(",
	"os.system", "os.popen", "subprocess", "open(", "!!", "<<:",
}

var errNotCollection = errors.New("relaxed eval: not an object or array")

// RelaxedEval reads s as a YAML flow literal, which accepts unquoted
// scalars, single quotes, Python-style True/False/None and other content a
// strict JSON decoder rejects. The result only holds JSON-compatible values:
// map[string]any, []any, string, float64, bool and nil.
func RelaxedEval(s string) (any, error) {
	lower := strings.ToLower(s)
	for _, tok := range deniedTokens {
		if strings.Contains(lower, tok) {
			return nil, fmt.Errorf("relaxed eval: forbidden token %q", tok)
		}
	}
	if d := nestingDepth(s); d > maxRelaxedDepth {
		return nil, fmt.Errorf("relaxed eval: nesting depth %d exceeds %d", d, maxRelaxedDepth)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("relaxed eval: %w", err)
	}
	root := &doc
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, errNotCollection
		}
		root = doc.Content[0]
	}
	if root.Kind != yaml.MappingNode && root.Kind != yaml.SequenceNode {
		return nil, errNotCollection
	}
	return fromNode(root)
}

func fromNode(n *yaml.Node) (any, error) {
	if n.Anchor != "" || n.Kind == yaml.AliasNode {
		return nil, errors.New("relaxed eval: anchors and aliases are not allowed")
	}
	switch n.Kind {
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if key.Kind != yaml.ScalarNode || key.ShortTag() == "!!merge" {
				return nil, fmt.Errorf("relaxed eval: unsupported key at line %d", key.Line)
			}
			v, err := fromNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[key.Value] = v
		}
		return m, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := fromNode(item)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.ScalarNode:
		return scalar(n)
	}
	return nil, fmt.Errorf("relaxed eval: unexpected node kind %d", n.Kind)
}

func scalar(n *yaml.Node) (any, error) {
	if n.Style == 0 && n.Value == "None" {
		return nil, nil
	}
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, fmt.Errorf("relaxed eval: %w", err)
		}
		return b, nil
	case "!!int", "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, fmt.Errorf("relaxed eval: %w", err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("relaxed eval: %q is not a JSON number", n.Value)
		}
		return f, nil
	case "!!str", "!!timestamp", "!!binary":
		return n.Value, nil
	}
	return nil, fmt.Errorf("relaxed eval: unsupported tag %s", n.Tag)
}
