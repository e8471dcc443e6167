package bql

import (
	"fmt"
)

// Normalize turns a single mutation block or a list of blocks into an ordered
// sequence of root nodes. Roots must declare their thing; nested blocks are
// validated when they are enriched.
func Normalize(input any) ([]*Node, error) {
	if input == nil {
		return nil, &ValidationError{Message: "mutation is empty"}
	}

	var items []any
	switch in := input.(type) {
	case []any:
		items = in
	case []map[string]any:
		for _, b := range in {
			items = append(items, b)
		}
	case map[string]any:
		items = []any{in}
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("mutation must be a block or a list of blocks, got %T", input)}
	}
	if len(items) == 0 {
		return nil, &ValidationError{Message: "mutation is empty"}
	}

	roots := make([]*Node, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("[%d]", i)
		n, err := parseNode(item, path)
		if err != nil {
			return nil, err
		}
		if n.Thing == "" {
			return nil, &ValidationError{Path: path, Message: "root blocks must declare $entity, $relation or $thing"}
		}
		switch n.Op {
		case OpLink, OpUnlink:
			return nil, &ValidationError{Path: path, Message: fmt.Sprintf("$op %s needs a parent", n.Op)}
		case OpUpdate, OpDelete:
			if n.ID == "" {
				return nil, &ValidationError{Path: path, Message: fmt.Sprintf("root $op %s requires $id", n.Op)}
			}
		}
		roots = append(roots, n)
	}
	return roots, nil
}
