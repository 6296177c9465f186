package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/jsonutil"
)

// OperationKind is the whitelisted tag of a cleaning operation.
type OperationKind string

const (
	OpRename        OperationKind = "rename"
	OpCast          OperationKind = "cast"
	OpFillNulls     OperationKind = "fill_nulls"
	OpDropNulls     OperationKind = "drop_nulls"
	OpAddCalculated OperationKind = "add_calculated"
	OpTrim          OperationKind = "trim"
	OpLower         OperationKind = "lower"
	OpUpper         OperationKind = "upper"
	OpRegexReplace  OperationKind = "regex_replace"
)

// kindAliases maps every accepted spelling to its canonical kind. Anything
// missing here is not a cleaning operation.
var kindAliases = map[string]OperationKind{
	"rename":              OpRename,
	"cast":                OpCast,
	"fill_nulls":          OpFillNulls,
	"fill_null":           OpFillNulls,
	"fill-null":           OpFillNulls,
	"drop_nulls":          OpDropNulls,
	"drop_null":           OpDropNulls,
	"drop-null":           OpDropNulls,
	"add_calculated":      OpAddCalculated,
	"add_computed_column": OpAddCalculated,
	"add-computed-column": OpAddCalculated,
	"trim":                OpTrim,
	"lower":               OpLower,
	"lowercase":           OpLower,
	"upper":               OpUpper,
	"uppercase":           OpUpper,
	"regex_replace":       OpRegexReplace,
	"regex-replace":       OpRegexReplace,
}

// LookupOperationKind resolves a wire tag against the whitelist.
func LookupOperationKind(tag string) (OperationKind, bool) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(tag))]
	return k, ok
}

// Operation is one step of a cleaning plan.
type Operation interface {
	Kind() OperationKind
	// Columns lists the existing columns the operation reads or writes.
	Columns() []string
}

// RenameOp renames columns old -> new.
type RenameOp struct {
	Mapping map[string]string `json:"mapping"`
}

// CastOp changes column types.
type CastOp struct {
	Types map[string]string `json:"types"`
}

// FillNullsOp replaces NULLs in Cols with Value.
type FillNullsOp struct {
	Cols  []string `json:"cols"`
	Value string   `json:"value"`
}

// DropNullsOp deletes rows where any of Cols is NULL.
type DropNullsOp struct {
	Cols []string `json:"cols"`
}

// AddCalculatedOp creates NewCol if needed and fills it with Expr.
type AddCalculatedOp struct {
	NewCol string `json:"new_col"`
	Expr   string `json:"expr"`
	Type   string `json:"type,omitempty"`
	Unit   string `json:"unit,omitempty"`
}

// TextOp is trim, lower or upper over Cols.
type TextOp struct {
	Op   OperationKind `json:"-"`
	Cols []string      `json:"cols"`
}

// RegexReplaceOp rewrites Col with regexp_replace(Col, Pattern, Repl, 'g').
type RegexReplaceOp struct {
	Col     string `json:"col"`
	Pattern string `json:"pattern"`
	Repl    string `json:"repl"`
}

func (RenameOp) Kind() OperationKind        { return OpRename }
func (CastOp) Kind() OperationKind          { return OpCast }
func (FillNullsOp) Kind() OperationKind     { return OpFillNulls }
func (DropNullsOp) Kind() OperationKind     { return OpDropNulls }
func (AddCalculatedOp) Kind() OperationKind { return OpAddCalculated }
func (o TextOp) Kind() OperationKind        { return o.Op }
func (RegexReplaceOp) Kind() OperationKind  { return OpRegexReplace }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o RenameOp) Columns() []string        { return sortedKeys(o.Mapping) }
func (o CastOp) Columns() []string          { return sortedKeys(o.Types) }
func (o FillNullsOp) Columns() []string     { return o.Cols }
func (o DropNullsOp) Columns() []string     { return o.Cols }
func (o AddCalculatedOp) Columns() []string { return nil }
func (o TextOp) Columns() []string          { return o.Cols }
func (o RegexReplaceOp) Columns() []string  { return []string{o.Col} }

// CleaningPlan is an ordered list of whitelisted operations.
type CleaningPlan struct {
	Intent     string
	Operations []Operation
}

// MarshalJSON writes the wire form with an "op" tag on every operation.
func (p CleaningPlan) MarshalJSON() ([]byte, error) {
	ops := make([]json.RawMessage, 0, len(p.Operations))
	for _, op := range p.Operations {
		body, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", op.Kind(), err)
		}
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		fields["op"] = string(op.Kind())
		tagged, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		ops = append(ops, tagged)
	}
	return json.Marshal(struct {
		Intent     string            `json:"intent"`
		Operations []json.RawMessage `json:"operations"`
	}{p.Intent, ops})
}

// UnmarshalJSON accepts the wire form and silently drops operations that are
// not whitelisted or lack the fields of their variant. Use DecodeCleaningPlan
// to learn how many were dropped.
func (p *CleaningPlan) UnmarshalJSON(data []byte) error {
	plan, _, err := DecodeCleaningPlan(data)
	if err != nil {
		return err
	}
	*p = *plan
	return nil
}

// DecodeCleaningPlan parses {"intent", "operations": [...]}. The tag may be
// under "op" or "kind". The second return value counts dropped operations.
func DecodeCleaningPlan(raw []byte) (*CleaningPlan, int, error) {
	var wire struct {
		Intent     json.RawMessage `json:"intent"`
		Operations json.RawMessage `json:"operations"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, 0, apperrors.Contract("plan is not a JSON object: %v", err)
	}

	plan := &CleaningPlan{Intent: strings.TrimSpace(jsonutil.FlexibleStringValue(wire.Intent))}

	var items []json.RawMessage
	if len(wire.Operations) > 0 && string(wire.Operations) != "null" {
		if err := json.Unmarshal(wire.Operations, &items); err != nil {
			return nil, 0, apperrors.Contract("operations must be a list")
		}
	}

	dropped := 0
	for _, item := range items {
		op, ok := decodeOperation(item)
		if !ok {
			dropped++
			continue
		}
		plan.Operations = append(plan.Operations, op)
	}
	return plan, dropped, nil
}

func decodeOperation(raw json.RawMessage) (Operation, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	tag := jsonutil.FlexibleStringValue(fields["op"])
	if tag == "" {
		tag = jsonutil.FlexibleStringValue(fields["kind"])
	}
	kind, ok := LookupOperationKind(tag)
	if !ok {
		return nil, false
	}

	str := func(key string) string { return strings.TrimSpace(jsonutil.FlexibleStringValue(fields[key])) }
	cols := func() []string {
		if c := jsonutil.FlexibleStringList(fields["cols"]); len(c) > 0 {
			return c
		}
		return jsonutil.FlexibleStringList(fields["columns"])
	}

	switch kind {
	case OpRename:
		m, ok := jsonutil.FlexibleStringMap(fields["mapping"])
		if !ok || len(m) == 0 {
			return nil, false
		}
		return RenameOp{Mapping: m}, true
	case OpCast:
		m, ok := jsonutil.FlexibleStringMap(fields["types"])
		if !ok || len(m) == 0 {
			return nil, false
		}
		return CastOp{Types: m}, true
	case OpFillNulls:
		c := cols()
		if len(c) == 0 {
			return nil, false
		}
		return FillNullsOp{Cols: c, Value: jsonutil.FlexibleStringValue(fields["value"])}, true
	case OpDropNulls:
		c := cols()
		if len(c) == 0 {
			return nil, false
		}
		return DropNullsOp{Cols: c}, true
	case OpAddCalculated:
		op := AddCalculatedOp{NewCol: str("new_col"), Expr: str("expr"), Type: str("type"), Unit: strings.ToLower(str("unit"))}
		if op.NewCol == "" || op.Expr == "" {
			return nil, false
		}
		return op, true
	case OpTrim, OpLower, OpUpper:
		c := cols()
		if len(c) == 0 {
			return nil, false
		}
		return TextOp{Op: kind, Cols: c}, true
	case OpRegexReplace:
		op := RegexReplaceOp{Col: str("col"), Pattern: jsonutil.FlexibleStringValue(fields["pattern"]), Repl: jsonutil.FlexibleStringValue(fields["repl"])}
		if op.Col == "" || op.Pattern == "" {
			return nil, false
		}
		return op, true
	}
	return nil, false
}
