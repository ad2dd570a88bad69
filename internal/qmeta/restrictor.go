package qmeta

import "github.com/qserv/qserv/internal/spatial"

// RestrictorKind names the five spatial/key-membership restrictor forms
// recognized from WHERE, per spec.md §3/§6.
type RestrictorKind string

const (
	RestrictorAreaBox     RestrictorKind = "areaspec_box"
	RestrictorAreaCircle  RestrictorKind = "areaspec_circle"
	RestrictorAreaEllipse RestrictorKind = "areaspec_ellipse"
	RestrictorAreaPoly    RestrictorKind = "areaspec_poly"
	RestrictorObjectID    RestrictorKind = "objectId"
)

// Restrictor is an extracted spatial or key-membership predicate, carrying
// both its shape (for chunk-set pruning) and its raw arguments (for
// rendering the QservRestrictor plugin's concrete boolean factor).
type Restrictor struct {
	Kind RestrictorKind
	Args []float64 // numeric args for area restrictors
	IDs  []int64   // objectId membership list
	Shape spatial.Shape // nil for RestrictorObjectID
}

// UDFName returns the scisql_s2Pt* UDF name prefix the QservRestrictor
// plugin renders for this restrictor kind, per spec.md §4.1 row 6.
func (r Restrictor) UDFName() string {
	switch r.Kind {
	case RestrictorAreaBox:
		return "scisql_s2PtInBox"
	case RestrictorAreaCircle:
		return "scisql_s2PtInCircle"
	case RestrictorAreaEllipse:
		return "scisql_s2PtInEllipse"
	case RestrictorAreaPoly:
		return "scisql_s2PtInCPoly"
	default:
		return ""
	}
}
