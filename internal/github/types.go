package github

// Remote identifies the GitHub repository behind a local checkout.
type Remote struct {
	Host    string `json:"host"`
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	HTMLURL string `json:"htmlUrl"`
}

// ChecksStatus is the aggregate verdict over a set of checks or runs.
// Overall is one of "none", "failure", "pending", "success".
type ChecksStatus struct {
	Overall string `json:"overall"`
	Total   int    `json:"total"`
	Passing int    `json:"passing"`
	Failing int    `json:"failing"`
	Pending int    `json:"pending"`
}

// PRActions are the mutations currently applicable to a PR.
type PRActions struct {
	CanMerge        bool `json:"canMerge"`
	CanMarkReady    bool `json:"canMarkReady"`
	CanUpdateBranch bool `json:"canUpdateBranch"`
}

// PR is one pull request as reported by `gh pr list`.
type PR struct {
	Number           int          `json:"number"`
	Title            string       `json:"title"`
	State            string       `json:"state"`
	URL              string       `json:"url"`
	IsDraft          bool         `json:"isDraft"`
	HeadRefName      string       `json:"headRefName"`
	ReviewDecision   string       `json:"reviewDecision,omitempty"`
	ChecksStatus     ChecksStatus `json:"checksStatus"`
	MergeStateStatus string       `json:"mergeStateStatus,omitempty"`
	Actions          PRActions    `json:"actions"`
}

// WorkflowRun is one run as reported by `gh run list`.
type WorkflowRun struct {
	ID           int64  `json:"databaseId"`
	Name         string `json:"name"`
	DisplayTitle string `json:"displayTitle"`
	HeadBranch   string `json:"headBranch"`
	Status       string `json:"status"`
	Conclusion   string `json:"conclusion"`
	URL          string `json:"url"`
	Event        string `json:"event"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// BranchRuns is the newest run per workflow on one branch, plus the
// verdict derived from them.
type BranchRuns struct {
	Status ChecksStatus  `json:"status"`
	Runs   []WorkflowRun `json:"runs"`
}

// CheckDetail is one check as reported by `gh pr checks`. Bucket is
// gh's own classification: pass, fail, pending, skipping, cancel.
type CheckDetail struct {
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	CompletedAt string `json:"completedAt,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	Link        string `json:"link,omitempty"`
	Workflow    string `json:"workflow,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProjectStatus is everything the dashboard shows for one project.
type ProjectStatus struct {
	Remote     *Remote               `json:"remote,omitempty"`
	PRs        []PR                  `json:"prs"`
	BranchRuns map[string]BranchRuns `json:"branchRuns"`
	PRChecks   map[int][]CheckDetail `json:"prChecks"`
}
