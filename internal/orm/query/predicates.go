package query

import (
	"fmt"

	"github.com/identi-digital/identi-modules-sub000/internal/orm/codegen"
)

// Condition is an equality predicate on one column
type Condition struct {
	Field string
	Value interface{}
}

// conditionToSQL renders a condition with a numbered placeholder, appending
// its bound value to args.
func conditionToSQL(cond *Condition, paramCounter *int, args *[]interface{}) string {
	*args = append(*args, cond.Value)
	sql := fmt.Sprintf("%s = $%d", codegen.QuoteIdentifier(cond.Field), *paramCounter)
	*paramCounter++
	return sql
}
