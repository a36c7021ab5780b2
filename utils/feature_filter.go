package utils

import (
	"fmt"
	"sort"
	"strings"

	goeval "github.com/edisonguo/govaluate"
)

// FeatureFilter selects output features with a boolean expression over
// their properties, e.g. "area_ha > 0.5 && class_type == 'Forest'".
type FeatureFilter struct {
	Expression string
	expr       *goeval.EvaluableExpression
	variables  []string
}

// NewFeatureFilter parses pattern and checks that every variable it
// references is one of validVariables. An empty pattern yields a nil
// filter, which matches everything.
func NewFeatureFilter(pattern string, validVariables []string) (*FeatureFilter, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, fmt.Errorf("filter expression: %v", err)
	}

	valid := make(map[string]struct{}, len(validVariables))
	for _, v := range validVariables {
		valid[v] = struct{}{}
	}

	var variables []string
	seen := make(map[string]struct{})
	for _, token := range expr.Tokens() {
		if token.Kind != goeval.VARIABLE {
			continue
		}
		varName, ok := token.Value.(string)
		if !ok {
			return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
		}
		if _, found := valid[varName]; !found {
			sorted := append([]string{}, validVariables...)
			sort.Strings(sorted)
			return nil, fmt.Errorf("variable %v is not supported. Valid variables are %v", varName, sorted)
		}
		if _, found := seen[varName]; !found {
			seen[varName] = struct{}{}
			variables = append(variables, varName)
		}
	}

	return &FeatureFilter{Expression: pattern, expr: expr, variables: variables}, nil
}

// Match evaluates the filter against the properties of one feature.
// Numeric properties are compared as float64.
func (f *FeatureFilter) Match(props map[string]interface{}) (bool, error) {
	if f == nil {
		return true, nil
	}

	parameters := make(map[string]interface{}, len(f.variables))
	for _, name := range f.variables {
		val := props[name]
		if num, err := ToFloat64(val); err == nil {
			parameters[name] = num
		} else {
			parameters[name] = val
		}
	}

	result, err := f.expr.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("filter expression: %v", err)
	}

	val, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter expression: result '%v' is not boolean", result)
	}
	return val, nil
}

// FilterVariables lists the property names a filter may reference for
// the given legend.
func FilterVariables(legend Legend) []string {
	seen := map[string]struct{}{}
	for _, key := range reservedAttributes {
		seen[key] = struct{}{}
	}
	for _, rec := range legend {
		for key := range rec {
			seen[key] = struct{}{}
		}
	}

	vars := make([]string, 0, len(seen))
	for key := range seen {
		vars = append(vars, key)
	}
	sort.Strings(vars)
	return vars
}
