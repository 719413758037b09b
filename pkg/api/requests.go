package api

// AnalyzeRequest is the body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	AgentIDs  []string `json:"agent_ids"`
	TaskIDs   []string `json:"task_ids"`
	Objective string   `json:"objective,omitempty"`
}
