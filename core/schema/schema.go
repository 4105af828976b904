// Package schema checks parsed N42 documents against a structural profile.
//
// Full XSD validation is outside this module. The default Validator applies
// an embedded profile of XPath cardinality rules derived from the N42.42-2011
// schema. The profile is compiled once per process on first use and is
// read-only afterwards, so one Validator may serve concurrent callers.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/xpath"
	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/n42kit/core/errors"
	"github.com/FocuswithJustin/n42kit/core/xml"
)

// Validator reports whether a document conforms to a schema.
type Validator interface {
	Validate(doc *xml.Document) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(doc *xml.Document) error

// Validate calls f(doc).
func (f ValidatorFunc) Validate(doc *xml.Document) error { return f(doc) }

// Nop accepts every document.
var Nop Validator = ValidatorFunc(func(*xml.Document) error { return nil })

//go:embed n42_2011.yaml
var n42Profile []byte

// Profile is the YAML form of a rule set.
type Profile struct {
	Version   string     `yaml:"version"`
	Namespace string     `yaml:"namespace"`
	Rules     []RuleSpec `yaml:"rules"`
}

// RuleSpec bounds the numeric result of an XPath expression.
type RuleSpec struct {
	Name  string `yaml:"name"`
	XPath string `yaml:"xpath"`
	Min   *int   `yaml:"min"`
	Max   *int   `yaml:"max"`
}

// ProfileValidator is a compiled Profile. It is safe for concurrent use.
type ProfileValidator struct {
	version string
	rules   []RuleSpec
	// exprs holds *[]*xpath.Expr sets, one per in-flight Validate call.
	// A compiled expression keeps iteration state while it is evaluated.
	exprs sync.Pool
}

// Compile parses a YAML profile and compiles its expressions.
func Compile(data []byte) (*ProfileValidator, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &errors.ParseError{Format: "YAML", Message: "schema profile", Err: err}
	}
	if len(p.Rules) == 0 {
		return nil, errors.NewValidation("rules", "profile has no rules")
	}

	v := &ProfileValidator{version: p.Version, rules: make([]RuleSpec, 0, len(p.Rules))}
	exprs := make([]*xpath.Expr, 0, len(p.Rules))
	for i, spec := range p.Rules {
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("rule[%d]", i)
		}
		if spec.Min == nil && spec.Max == nil {
			return nil, errors.NewValidation(spec.Name, "rule needs min or max")
		}
		expr, err := xpath.Compile(spec.XPath)
		if err != nil {
			return nil, errors.Wrapf(err, "compile rule %s", spec.Name)
		}
		v.rules = append(v.rules, spec)
		exprs = append(exprs, expr)
	}
	v.exprs.New = func() any {
		// Every expression compiled above, so these cannot fail.
		set := make([]*xpath.Expr, len(v.rules))
		for i, r := range v.rules {
			set[i] = xpath.MustCompile(r.XPath)
		}
		return &set
	}
	v.exprs.Put(&exprs)
	return v, nil
}

// Version returns the profile version string.
func (v *ProfileValidator) Version() string { return v.version }

// Len returns the number of rules.
func (v *ProfileValidator) Len() int { return len(v.rules) }

// Validate evaluates every rule and joins all violations.
func (v *ProfileValidator) Validate(doc *xml.Document) error {
	set := v.exprs.Get().(*[]*xpath.Expr)
	defer v.exprs.Put(set)
	exprs := *set

	var violations []error
	for i, r := range v.rules {
		n, err := doc.Count(exprs[i])
		if err != nil {
			violations = append(violations, &errors.ValidationError{Field: r.Name, Message: "rule not evaluable", Err: err})
			continue
		}
		if r.Min != nil && n < *r.Min {
			violations = append(violations, errors.NewValidation(r.Name, fmt.Sprintf("found %d, need at least %d", n, *r.Min)))
		}
		if r.Max != nil && n > *r.Max {
			violations = append(violations, errors.NewValidation(r.Name, fmt.Sprintf("found %d, allowed at most %d", n, *r.Max)))
		}
	}
	return join(violations)
}

// Violations is a non-empty list of rule failures.
type Violations []error

func (v Violations) Error() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (v Violations) Unwrap() []error { return v }

func join(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return Violations(errs)
}

var (
	defaultOnce      sync.Once
	defaultValidator *ProfileValidator
	defaultErr       error
)

// Default returns the process-wide N42.42-2011 validator, compiling the
// embedded profile on first call.
func Default() (*ProfileValidator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = Compile(n42Profile)
	})
	return defaultValidator, defaultErr
}
