package search

import "context"

// Record is the data indexed for one assignment.
type Record struct {
	ID         string `json:"id"` // shiftKey/assignmentID, unique across tables
	CaseNo     string `json:"caseNo"`
	Desc       string `json:"desc,omitempty"`
	AssigneeID string `json:"assigneeId"`
	ShiftKey   string `json:"shiftKey"`
	TeamID     string `json:"teamId"`
}

// Query describes a case search request.
type Query struct {
	Text  string
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Record `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a case search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Record, int, error)
	Healthy() bool
}
