// Package delegation routes sub-instructions from one agent to a coworker
// while bounding the depth of the resulting call chain.
package delegation

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
	"github.com/ShayCichocki/crewkit/internal/logging"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// MaxDepth is the deepest a delegation chain may go. An agent running a task
// directly is at depth 0; its delegate runs at depth 1.
const MaxDepth = 3

// ActionName is the action an agent names to delegate.
const ActionName = "Delegate work to coworker"

// Request is one delegation attempt.
type Request struct {
	// TaskID is the task being executed when the delegation happened.
	TaskID string
	// From is the delegating agent's ID.
	From string
	// Coworker is the role or ID the delegating agent asked for. May be empty.
	Coworker string
	// Candidates are the agents eligible to receive the work, in declaration
	// order.
	Candidates []*models.Agent
	// Instruction is the sub-instruction to perform.
	Instruction string
	// Context is everything the coworker needs to know.
	Context string
	// Depth is the depth the target will execute at.
	Depth int
}

// Executor runs a delegated request as the target agent at req.Depth.
type Executor interface {
	ExecuteDelegated(ctx context.Context, target *models.Agent, req Request) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, target *models.Agent, req Request) (string, error)

func (f ExecutorFunc) ExecuteDelegated(ctx context.Context, target *models.Agent, req Request) (string, error) {
	return f(ctx, target, req)
}

// Router selects delegation targets and invokes them.
type Router struct {
	exec   Executor
	logger logrus.FieldLogger
	// OnDelegate, when set, observes every routed hop.
	OnDelegate func(taskID string, rec models.DelegationRecord)
}

// NewRouter creates a router that runs targets through exec.
func NewRouter(exec Executor, logger logrus.FieldLogger) *Router {
	return &Router{exec: exec, logger: logging.OrNop(logger)}
}

// Delegate routes req to a coworker and returns the coworker's answer.
func (r *Router) Delegate(ctx context.Context, req Request) (string, error) {
	if req.Depth > MaxDepth {
		return "", r.fail(req, fmt.Errorf("%w: depth %d > %d", crewerr.ErrDepthExceeded, req.Depth, MaxDepth))
	}
	target, err := Select(req)
	if err != nil {
		return "", r.fail(req, err)
	}

	rec := models.DelegationRecord{From: req.From, To: target.ID, Depth: req.Depth}
	r.logger.WithFields(logrus.Fields{
		"task":  req.TaskID,
		"from":  rec.From,
		"to":    rec.To,
		"depth": rec.Depth,
	}).Info("Delegating work to coworker")
	if r.OnDelegate != nil {
		r.OnDelegate(req.TaskID, rec)
	}

	return r.exec.ExecuteDelegated(ctx, target, req)
}

func (r *Router) fail(req Request, err error) error {
	return crewerr.New(crewerr.KindDelegation, "delegate", err).WithTask(req.TaskID).WithAgent(req.From)
}

// Select picks the target for req. An exact role or ID match on
// req.Coworker wins; otherwise the candidate whose role and goal share the
// most keywords with the request wins, ties going to the earlier declared
// agent. The delegating agent is never selected.
func Select(req Request) (*models.Agent, error) {
	candidates := make([]*models.Agent, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		if c != nil && c.ID != req.From {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no coworkers available", crewerr.ErrNoTarget)
	}

	if want := normalize(req.Coworker); want != "" {
		for _, c := range candidates {
			if normalize(c.ID) == want || normalize(c.Role) == want {
				return c, nil
			}
		}
	}

	query := keywords(req.Coworker + " " + req.Instruction)
	var best *models.Agent
	bestScore := 0
	for _, c := range candidates {
		score := overlap(query, keywords(c.Role+" "+c.Goal))
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no coworker matches %q", crewerr.ErrNoTarget, firstNonEmpty(req.Coworker, req.Instruction))
	}
	return best, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "into": true, "about": true, "your": true, "you": true, "are": true,
	"all": true, "any": true, "can": true, "will": true, "should": true, "please": true,
}

// keywords returns the set of lowercase words of three or more letters that
// are not stop words. Simple plural forms are folded onto their stem.
func keywords(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) < 3 || stopWords[w] {
			continue
		}
		set[stem(w)] = true
	}
	return set
}

func stem(w string) string {
	if len(w) > 4 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return w[:len(w)-1]
	}
	return w
}

func overlap(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
