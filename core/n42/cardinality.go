package n42

import (
	"github.com/FocuswithJustin/n42kit/core/errors"
	"github.com/FocuswithJustin/n42kit/core/xml"
)

// Cardinality is an occurrence rule for a child element.
type Cardinality int

const (
	// ZeroOrMore keeps every occurrence.
	ZeroOrMore Cardinality = iota
	// ExactlyOne rejects the document unless the element occurs once.
	ExactlyOne
	// FirstOfMany tolerates any count and keeps only the first occurrence.
	FirstOfMany
)

func (c Cardinality) String() string {
	switch c {
	case ZeroOrMore:
		return "zero or more"
	case ExactlyOne:
		return "exactly one"
	case FirstOfMany:
		return "zero or more, first kept"
	default:
		return "unknown"
	}
}

// childRules names the cardinality of each child element the reader consumes.
var childRules = map[string]Cardinality{
	ElemClassCode:         ZeroOrMore,
	ElemStartDateTime:     FirstOfMany,
	ElemRealTimeDuration:  ExactlyOne,
	ElemSpectrum:          ZeroOrMore,
	ElemLiveTimeDuration:  ExactlyOne,
	ElemChannelData:       ZeroOrMore,
	ElemCoefficientValues: FirstOfMany,
	ElemEnergyValues:      FirstOfMany,
	ElemFWHMValues:        FirstOfMany,
}

// RuleFor returns the cardinality rule for a child element name.
func RuleFor(element string) Cardinality {
	return childRules[element]
}

// Select applies c to the occurrences of element found under parent.
func (c Cardinality) Select(element, parent string, nodes []*xml.Node) ([]*xml.Node, error) {
	switch c {
	case ExactlyOne:
		if len(nodes) != 1 {
			return nil, errors.NewCardinality(element, parent, c.String(), len(nodes))
		}
		return nodes, nil
	case FirstOfMany:
		if len(nodes) > 1 {
			return nodes[:1], nil
		}
		return nodes, nil
	case ZeroOrMore:
		return nodes, nil
	default:
		return nil, &errors.StructureError{Element: element, Parent: parent, Message: "no cardinality rule"}
	}
}

// children returns the namespaced children of n named element, filtered by
// that element's rule.
func children(n *xml.Node, parent, element string) ([]*xml.Node, error) {
	return RuleFor(element).Select(element, parent, n.ChildrenNamed(Namespace, element))
}

// child returns the single surviving child for ExactlyOne and FirstOfMany
// elements, or nil when a FirstOfMany element is absent.
func child(n *xml.Node, parent, element string) (*xml.Node, error) {
	nodes, err := children(n, parent, element)
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}
