package a2a

const SkillSQLAgent = "sql_agent"

var SupportedContentTypes = []string{"text", "text/plain"}

// DefaultAgentCard describes the SQL agent served at url.
func DefaultAgentCard(url, version string) *AgentCard {
	return &AgentCard{
		Name:               "SQL Agent",
		Description:        "Writes SQL queries against a known database schema.",
		URL:                url,
		Version:            version,
		DefaultInputModes:  SupportedContentTypes,
		DefaultOutputModes: SupportedContentTypes,
		Capabilities:       Capabilities{Streaming: true},
		Skills: []Skill{{
			ID:          SkillSQLAgent,
			Name:        "SQL Agent",
			Description: "Plans, drafts and refines a SQL query for a question about the schema.",
			Tags:        []string{"sql"},
			Examples:    []string{"Which cities have the most active customers?"},
		}},
	}
}
