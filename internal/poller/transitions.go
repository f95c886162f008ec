package poller

import (
	"strconv"
	"strings"

	"github.com/workdeck/workdeck/internal/bus"
	"github.com/workdeck/workdeck/internal/github"
)

// diffState remembers the previous observation per PR so one boundary
// crossing yields exactly one event, no matter how often the poller
// re-reads an unchanged status. Not goroutine-safe; the poller
// serializes access under its own lock.
type diffState struct {
	// "project::pr" -> "check::workflow" -> bucket
	buckets map[string]map[string]string
	// "project::pr" -> PR state
	prStates map[string]string
}

func newDiffState() *diffState {
	return &diffState{
		buckets:  make(map[string]map[string]string),
		prStates: make(map[string]string),
	}
}

func prKey(projectPath string, number int) string {
	return projectPath + "::" + strconv.Itoa(number)
}

func checkKey(check github.CheckDetail) string {
	return check.Name + "::" + check.Workflow
}

// checkTransitions diffs the fetched per-PR checks against the previous
// observation and records the new one. A check fires when it lands in a
// terminal bucket different from the recorded one; the first
// observation of a PR never fires, and pending-to-pending churn never
// fires. Each (check, workflow) pair transitions independently.
func (d *diffState) checkTransitions(projectPath string, status github.ProjectStatus) []bus.CheckTransition {
	var transitions []bus.CheckTransition
	seen := make(map[string]bool, len(status.PRChecks))

	for number, checks := range status.PRChecks {
		key := prKey(projectPath, number)
		seen[key] = true

		if old, observed := d.buckets[key]; observed {
			for _, check := range checks {
				previous, recorded := old[checkKey(check)]
				if !recorded || previous == check.Bucket {
					continue
				}
				if check.Bucket != "pass" && check.Bucket != "fail" {
					continue
				}
				transitions = append(transitions, bus.CheckTransition{
					ProjectPath: projectPath,
					PRNumber:    number,
					Check:       check.Name,
					Workflow:    check.Workflow,
					From:        previous,
					To:          check.Bucket,
				})
			}
		}

		next := make(map[string]string, len(checks))
		for _, check := range checks {
			next[checkKey(check)] = check.Bucket
		}
		d.buckets[key] = next
	}

	prunePrefixed(d.buckets, projectPath, seen)
	return transitions
}

type mergedPR struct {
	number int
	branch string
}

// mergedPRs reports PRs whose state moved into MERGED since the last
// observation. A PR first seen already MERGED reports nothing; there is
// no edge to act on.
func (d *diffState) mergedPRs(projectPath string, status github.ProjectStatus) []mergedPR {
	var merged []mergedPR
	seen := make(map[string]bool, len(status.PRs))

	for _, pr := range status.PRs {
		key := prKey(projectPath, pr.Number)
		seen[key] = true
		previous, recorded := d.prStates[key]
		d.prStates[key] = pr.State
		if recorded && previous != "MERGED" && pr.State == "MERGED" {
			merged = append(merged, mergedPR{number: pr.Number, branch: pr.HeadRefName})
		}
	}

	prunePrefixed(d.prStates, projectPath, seen)
	return merged
}

// pruneProjects drops diff state for projects no longer polled.
func (d *diffState) pruneProjects(active map[string]bool) {
	keep := func(key string) bool {
		for path := range active {
			if strings.HasPrefix(key, path+"::") {
				return true
			}
		}
		return false
	}
	for key := range d.buckets {
		if !keep(key) {
			delete(d.buckets, key)
		}
	}
	for key := range d.prStates {
		if !keep(key) {
			delete(d.prStates, key)
		}
	}
}

// prunePrefixed removes keys of one project that were not observed this
// cycle, so a closed PR's history cannot fire against a future reuse.
func prunePrefixed[V any](m map[string]V, projectPath string, seen map[string]bool) {
	prefix := projectPath + "::"
	for key := range m {
		if strings.HasPrefix(key, prefix) && !seen[key] {
			delete(m, key)
		}
	}
}
