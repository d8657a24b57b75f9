// Package run holds the state accumulated by one agent run. It sits below
// the controller so quality scoring and streaming can consume run state
// without importing the controller itself.
package run

import "time"

type (
	// Status is the terminal state of a run.
	Status string

	// Thought is one reasoning step.
	Thought struct {
		Step    int    `json:"step"`
		Content string `json:"content"`
	}

	// Action is one decided function call.
	Action struct {
		Step         int            `json:"step"`
		FunctionID   string         `json:"function_id"`
		FunctionName string         `json:"function_name"`
		Parameters   map[string]any `json:"parameters,omitempty"`
		Strategy     string         `json:"strategy,omitempty"`
	}

	// Observation is the outcome of one executed action.
	Observation struct {
		Step       int           `json:"step"`
		FunctionID string        `json:"function_id"`
		Success    bool          `json:"success"`
		Data       any           `json:"data,omitempty"`
		Error      string        `json:"error,omitempty"`
		Duration   time.Duration `json:"duration"`
	}

	// State is the full record of a run.
	State struct {
		RunID     string `json:"run_id"`
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
		Query     string `json:"query"`

		Thoughts     []Thought     `json:"thoughts"`
		Actions      []Action      `json:"actions"`
		Observations []Observation `json:"observations"`

		FinalAnswer string  `json:"final_answer"`
		Status      Status  `json:"status"`
		Quality     float64 `json:"quality"`
		Steps       int     `json:"steps"`

		StartedAt   time.Time `json:"started_at"`
		CompletedAt time.Time `json:"completed_at"`
	}
)

const (
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
	StatusFailed     Status = "failed"
)

// New initializes run state for a query.
func New(runID, sessionID, userID, query string) *State {
	return &State{
		RunID:     runID,
		SessionID: sessionID,
		UserID:    userID,
		Query:     query,
		StartedAt: time.Now().UTC(),
	}
}

// AddThought appends a reasoning step.
func (s *State) AddThought(step int, content string) {
	s.Thoughts = append(s.Thoughts, Thought{Step: step, Content: content})
}

// AddAction appends a decided call.
func (s *State) AddAction(a Action) {
	s.Actions = append(s.Actions, a)
}

// AddObservation appends an execution outcome.
func (s *State) AddObservation(o Observation) {
	s.Observations = append(s.Observations, o)
}

// SuccessfulObservations counts observations that succeeded.
func (s *State) SuccessfulObservations() int {
	n := 0
	for _, o := range s.Observations {
		if o.Success {
			n++
		}
	}
	return n
}

// LastThoughts returns up to n most recent thoughts, oldest first.
func (s *State) LastThoughts(n int) []Thought {
	if len(s.Thoughts) <= n {
		return s.Thoughts
	}
	return s.Thoughts[len(s.Thoughts)-n:]
}

// Duration is the elapsed wall-clock time of the run.
func (s *State) Duration() time.Duration {
	end := s.CompletedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return end.Sub(s.StartedAt)
}
