package pattern

import (
	"errors"
	"fmt"
	"math"
	"regexp/syntax"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Limits bounds the complexity of accepted regular expressions.
type Limits struct {
	// MaxRegexLength is the maximum regex source length in bytes.
	MaxRegexLength int

	// MaxRepeatNesting is the maximum depth of nested quantifiers,
	// e.g. `(a+)+` has depth 2.
	MaxRepeatNesting int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxRegexLength:   4096,
		MaxRepeatNesting: 3,
	}
}

// Validate checks every field required for registration. The regex is
// parsed but not compiled. Returned errors wrap ErrInvalidPattern.
func (d Definition) Validate(limits Limits) error {
	var problems []error

	if strings.TrimSpace(d.Domain) == "" {
		problems = append(problems, errors.New("domain is required"))
	}
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, errors.New("name is required"))
	}
	if !d.Category.Valid() {
		problems = append(problems, fmt.Errorf("category must be %q or %q, got %q", CategoryEntity, CategoryRelationship, d.Category))
	}
	if strings.TrimSpace(d.OutputType) == "" {
		problems = append(problems, errors.New("output_type is required"))
	}
	if math.IsNaN(d.BaseConfidence) || d.BaseConfidence < 0 || d.BaseConfidence > 1 {
		problems = append(problems, fmt.Errorf("base_confidence must be between 0 and 1, got %v", d.BaseConfidence))
	}
	if d.Priority < PriorityLow || d.Priority > PriorityHigh {
		problems = append(problems, fmt.Errorf("unknown priority %d", int(d.Priority)))
	}
	if _, err := semver.StrictNewVersion(d.Version); err != nil {
		problems = append(problems, fmt.Errorf("version %q is not a semantic version: %w", d.Version, err))
	}
	if err := checkRegex(d.Regex, d.Category, limits); err != nil {
		problems = append(problems, err)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPattern, errors.Join(problems...))
}

func checkRegex(expr string, category Category, limits Limits) error {
	if expr == "" {
		return errors.New("regex is required")
	}
	if limits.MaxRegexLength > 0 && len(expr) > limits.MaxRegexLength {
		return fmt.Errorf("regex too long: %d bytes (max %d)", len(expr), limits.MaxRegexLength)
	}

	re, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return fmt.Errorf("regex does not parse: %w", err)
	}

	if limits.MaxRepeatNesting > 0 {
		if depth := repeatDepth(re); depth > limits.MaxRepeatNesting {
			return fmt.Errorf("regex nests quantifiers %d deep (max %d)", depth, limits.MaxRepeatNesting)
		}
	}

	if category == CategoryRelationship {
		names := re.CapNames()
		named := slices.Contains(names, GroupFrom) && slices.Contains(names, GroupTo)
		if !named && re.MaxCap() < 2 {
			return fmt.Errorf("relationship regex needs %q and %q groups or at least two capture groups", GroupFrom, GroupTo)
		}
	}
	return nil
}

// repeatDepth returns the deepest chain of nested quantifiers in re.
func repeatDepth(re *syntax.Regexp) int {
	deepest := 0
	for _, sub := range re.Sub {
		if d := repeatDepth(sub); d > deepest {
			deepest = d
		}
	}
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		return deepest + 1
	}
	return deepest
}

// Capture group names with special meaning.
const (
	GroupFrom = "from"
	GroupTo   = "to"

	// OptionalGroupPrefix marks capture groups that may legitimately be empty.
	OptionalGroupPrefix = "opt_"
)
