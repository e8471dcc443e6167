// Package bql compiles nested mutation blocks into typed, identity-tagged
// thing and edge operations: normalization, enrichment, operation
// classification, pre-query merging, dependency resolution and partitioning.
package bql

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"thingmapper/internal/schema"
)

// Op is a mutation operation on a thing.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpLink   Op = "link"
	OpUnlink Op = "unlink"
)

// ParseOp validates an operation name.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpCreate, OpUpdate, OpDelete, OpLink, OpUnlink:
		return op, nil
	default:
		return "", fmt.Errorf("unknown $op %q", s)
	}
}

// Block is one raw mutation block as supplied by the caller.
type Block = map[string]any

// Reserved block keys.
const (
	KeyThing     = "$thing"
	KeyThingType = "$thingType"
	KeyEntity    = "$entity"
	KeyRelation  = "$relation"
	KeyID        = "$id"
	KeyTempID    = "$tempId"
	KeyOp        = "$op"
	KeyRef       = "$ref"
	KeyRefField  = "$field"
)

// Node is a shape-validated mutation block. Fields keeps every non-reserved
// key; splitting them into data and relational fields needs the resolved
// thing type and happens during enrichment.
type Node struct {
	Thing     string
	ThingType schema.ThingType
	ID        string
	TempID    string
	Op        Op
	Fields    map[string]any
}

// parseNode validates a block and copies it into a Node. The caller's map is
// never retained.
func parseNode(raw any, path string) (*Node, error) {
	block, ok := asBlock(raw)
	if !ok {
		return nil, &ValidationError{Path: path, Message: fmt.Sprintf("expected an object, got %T", raw)}
	}

	n := &Node{Fields: make(map[string]any, len(block))}
	for _, key := range sortedKeys(block) {
		val := block[key]
		if !strings.HasPrefix(key, "$") {
			n.Fields[key] = stringify(val)
			continue
		}
		str, isStr := val.(string)
		switch key {
		case KeyThing, KeyEntity, KeyRelation:
			if !isStr || str == "" {
				return nil, &ValidationError{Path: path, Message: key + " must be a non-empty string"}
			}
			if n.Thing != "" && n.Thing != str {
				return nil, &ValidationError{Path: path, Message: fmt.Sprintf("conflicting thing declarations %q and %q", n.Thing, str)}
			}
			n.Thing = str
			switch key {
			case KeyEntity:
				n.ThingType = schema.Entity
			case KeyRelation:
				n.ThingType = schema.Relation
			}
		case KeyThingType:
			if !isStr || (str != string(schema.Entity) && str != string(schema.Relation)) {
				return nil, &ValidationError{Path: path, Message: "$thingType must be entity or relation"}
			}
			n.ThingType = schema.ThingType(str)
		case KeyID:
			id, err := identifierString(val)
			if err != nil {
				return nil, &ValidationError{Path: path, Message: "$id " + err.Error()}
			}
			n.ID = id
		case KeyTempID:
			if !isStr || str == "" {
				return nil, &ValidationError{Path: path, Message: "$tempId must be a non-empty string"}
			}
			n.TempID = str
		case KeyOp:
			if !isStr {
				return nil, &ValidationError{Path: path, Message: "$op must be a string"}
			}
			op, err := ParseOp(str)
			if err != nil {
				return nil, &ValidationError{Path: path, Message: err.Error()}
			}
			n.Op = op
		default:
			return nil, &ValidationError{Path: path, Message: fmt.Sprintf("unknown reserved key %q", key)}
		}
	}
	if n.ID != "" && n.TempID != "" {
		return nil, &ValidationError{Path: path, Message: "$id and $tempId are mutually exclusive"}
	}
	return n, nil
}

func asBlock(v any) (map[string]any, bool) {
	switch b := v.(type) {
	case map[string]any:
		return b, b != nil
	default:
		return nil, false
	}
}

// asList normalizes a single value and an ordered list to the same shape.
func asList(v any) (items []any, many bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, b := range l {
			out[i] = b
		}
		return out, true
	default:
		return []any{v}, false
	}
}

func identifierString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("must not be empty")
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%d", id), nil
	case float64:
		if id != float64(int64(id)) {
			return "", fmt.Errorf("must be an integer or a string")
		}
		return fmt.Sprintf("%d", int64(id)), nil
	default:
		return "", fmt.Errorf("must be a string, got %T", v)
	}
}

// stringify converts values the backends cannot carry natively. Nested maps
// and lists are walked so time values inside JSON content are converted too.
func stringify(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = stringify(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = stringify(item)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
