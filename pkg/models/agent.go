package models

// Agent is the immutable identity and limit set of a crew member.
type Agent struct {
	// ID is the registry key of this agent (e.g. "research_agent").
	ID string `json:"id"`
	// Role is the job title the agent plays, used for delegation matching.
	Role string `json:"role"`
	// Goal is what the agent is trying to achieve.
	Goal string `json:"goal"`
	// Backstory gives the agent its voice and expertise.
	Backstory string `json:"backstory"`
	// Tools lists the names of tool adapters bound to this agent.
	Tools []string `json:"tools,omitempty"`
	// AllowDelegation lets the agent hand sub-instructions to coworkers.
	AllowDelegation bool `json:"allow_delegation"`
	// MaxIterations bounds the reasoning loop.
	MaxIterations int `json:"max_iterations"`
	// MaxCallsPerMinute bounds completion calls in any rolling minute.
	// Zero means unlimited.
	MaxCallsPerMinute int `json:"max_calls_per_minute,omitempty"`
	// LLM is the backend reference, e.g. "gemini/gemini-2.0-flash".
	LLM string `json:"llm,omitempty"`
	// Temperature is passed to the backend when set.
	Temperature *float64 `json:"temperature,omitempty"`
	// InjectDate adds the current date to every prompt.
	InjectDate bool `json:"inject_date,omitempty"`
	// Reasoning makes the agent reflect on its approach before acting.
	Reasoning bool `json:"reasoning,omitempty"`
}
