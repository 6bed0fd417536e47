package research

import "errors"

var (
	// ErrTimeout marks a language-model call or request that ran past its deadline.
	ErrTimeout = errors.New("research: timed out")
	// ErrInvalidArgument is returned for out-of-range breadth or depth.
	ErrInvalidArgument = errors.New("research: invalid argument")
)

// SerpQuery is a single search directive produced by the planner.
type SerpQuery struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal"`
}

// Progress is a snapshot of one research call, passed to Request.OnProgress.
type Progress struct {
	CurrentDepth     int        `json:"currentDepth"`
	TotalDepth       int        `json:"totalDepth"`
	CurrentBreadth   int        `json:"currentBreadth"`
	TotalBreadth     int        `json:"totalBreadth"`
	CurrentQuery     *SerpQuery `json:"currentQuery,omitempty"`
	TotalQueries     int        `json:"totalQueries"`
	CompletedQueries int        `json:"completedQueries"`
}

// Distillation holds the learnings and follow-up questions extracted from
// one query's search results.
type Distillation struct {
	Learnings         []string `json:"learnings"`
	FollowUpQuestions []string `json:"followUpQuestions"`
}

// Request describes one research session.
type Request struct {
	Query   string
	Breadth int
	Depth   int
	// Learnings and VisitedURLs seed the session with earlier findings.
	Learnings   []string
	VisitedURLs []string
	// OnProgress, when set, is called after each progress update. Calls
	// come from branch goroutines but never overlap. Panics are recovered.
	OnProgress func(Progress)
}

// Result is the deduplicated outcome of a research session.
type Result struct {
	Learnings   []string `json:"learnings"`
	VisitedURLs []string `json:"visitedUrls"`
}
