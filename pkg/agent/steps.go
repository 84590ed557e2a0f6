package agent

import (
	"regexp"
	"strings"
)

const (
	VarQuestion   = "question"
	VarSchema     = "schema"
	VarQueryPlan  = "query_plan"
	VarSQL        = "sql_output"
	VarRefinedSQL = "refactored_sql_output"
)

// Step is one prompt in the pipeline. Instruction may reference earlier
// outputs as {name}; the schema is appended when WithSchema is set.
type Step struct {
	Name        string
	OutputKey   string
	Instruction string
	WithSchema  bool
}

func DefaultSteps() []Step {
	return []Step{
		{
			Name:       "sql_schema_analyzer",
			OutputKey:  VarQueryPlan,
			WithSchema: true,
			Instruction: `You analyze a relational schema against a user's question.
List the tables and columns needed to answer it and a numbered query plan.
Reply with XML using <table>, <field> and <query_plan> elements and nothing else.`,
		},
		{
			Name:      "sql_writer",
			OutputKey: VarSQL,
			Instruction: `You write SQL. Using the plan below, write one query that answers the user's question.
Reply with the query only.

Plan:
{query_plan}`,
		},
		{
			Name:      "sql_refactor",
			OutputKey: VarRefinedSQL,
			Instruction: `You review SQL. Simplify the query below without changing its result:
drop unused columns and joins, prefer sargable predicates, keep it portable.
Reply with the final query only.

Query:
{sql_output}

Plan:
{query_plan}`,
		},
	}
}

var placeholderRE = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

// Prompt renders the system prompt for the step. Unknown placeholders are
// left as they are.
func (s Step) Prompt(vars map[string]string) string {
	prompt := placeholderRE.ReplaceAllStringFunc(s.Instruction, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
	if s.WithSchema && vars[VarSchema] != "" {
		prompt += "\n\nDatabase schema:\n" + vars[VarSchema]
	}
	return prompt
}

var fenceRE = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")

// ExtractSQL returns the body of the first fenced code block in s, or s
// itself when there is none.
func ExtractSQL(s string) string {
	if m := fenceRE.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}
