package diagram

// NodeKind classifies a diagram node by its workflow step type.
type NodeKind string

const (
	NodeKindStep         NodeKind = "step"
	NodeKindApproval     NodeKind = "approval"
	NodeKindNotification NodeKind = "notification"
	NodeKindDataEntry    NodeKind = "data_entry"
	NodeKindTransform    NodeKind = "transform"
	NodeKindStart        NodeKind = "start"
	NodeKindEnd          NodeKind = "end"
)

// Virtual node IDs.
const (
	StartNodeID = "__start__"
	EndNodeID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single step in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the outcome an execution recorded for a node.
type StatusOverlay struct {
	Status     string // lower-cased schema.StepStatus
	DurationMs int64
	Message    string
	Error      string
}

// Edge is a transition between two nodes. Taken marks edges an overlaid
// execution actually followed.
type Edge struct {
	From  string
	To    string
	Label string
	Taken bool
}
