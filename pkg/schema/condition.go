package schema

import "encoding/json"

// Condition is a transition predicate. The {field, operator, value} triple
// is the primary form; Expression is a CEL alternative used only when the
// triple is incomplete. A nil or empty Condition always holds.
type Condition struct {
	Field      string
	Operator   string
	Value      any
	Expression string

	hasValue bool
}

// NewCondition builds a complete triple. value may be nil, which is a
// well-formed comparison against null.
func NewCondition(field, operator string, value any) *Condition {
	return &Condition{Field: field, Operator: operator, Value: value, hasValue: true}
}

// NewExpressionCondition builds a CEL-only condition.
func NewExpressionCondition(expr string) *Condition {
	return &Condition{Expression: expr}
}

// HasValue reports whether a value was supplied, including an explicit null.
func (c *Condition) HasValue() bool {
	return c != nil && c.hasValue
}

// IsTriple reports whether field, operator and value are all present.
func (c *Condition) IsTriple() bool {
	return c != nil && c.Field != "" && c.Operator != "" && c.hasValue
}

// IsEmpty reports whether the condition constrains nothing.
func (c *Condition) IsEmpty() bool {
	return c == nil || (!c.IsTriple() && c.Expression == "")
}

type conditionJSON struct {
	Field      string          `json:"field,omitempty"`
	Operator   string          `json:"operator,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Expression string          `json:"expression,omitempty"`
}

// MarshalJSON keeps an explicit null value distinguishable from an absent one.
func (c Condition) MarshalJSON() ([]byte, error) {
	out := conditionJSON{Field: c.Field, Operator: c.Operator, Expression: c.Expression}
	if c.hasValue {
		raw, err := json.Marshal(c.Value)
		if err != nil {
			return nil, err
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var in conditionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = Condition{Field: in.Field, Operator: in.Operator, Expression: in.Expression}
	if in.Value != nil {
		c.hasValue = true
		if err := json.Unmarshal(in.Value, &c.Value); err != nil {
			return err
		}
	}
	return nil
}
