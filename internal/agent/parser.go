package agent

import (
	"errors"
	"regexp"
	"strings"
)

// StepKind classifies a parsed reply.
type StepKind int

const (
	StepFinal StepKind = iota
	StepTool
	StepDelegate
)

// Step is one parsed model reply.
type Step struct {
	Kind    StepKind
	Thought string
	// Action and Input are set for tool and delegation steps.
	Action string
	Input  string
	// Answer is set for final steps.
	Answer string
}

const (
	finalAnswerMarker = "Final Answer:"
	observationMarker = "Observation:"
)

// Action names that route to the delegation router.
const (
	DelegateAction = "Delegate work to coworker"
	AskAction      = "Ask question to coworker"
)

var (
	errBothActionAndFinal = errors.New("reply contains both an Action and a Final Answer")
	errMissingAction      = errors.New(`reply has neither "Action:" nor "Final Answer:"`)
	errMissingInput       = errors.New(`"Action:" is not followed by "Action Input:"`)

	actionPattern = regexp.MustCompile(`(?s)Action\s*\d*\s*:[\s]*(.*?)[\s]*Action\s*\d*\s*Input\s*\d*\s*:[\s]*(.*)`)
	thoughtPrefix = regexp.MustCompile(`(?i)^\s*thought\s*:\s*`)
)

// parseReply interprets a reply in the Thought/Action/Action Input or
// Final Answer format.
func parseReply(reply string) (Step, error) {
	text := strings.TrimSpace(reply)
	finalIdx := strings.Index(text, finalAnswerMarker)
	m := actionPattern.FindStringSubmatchIndex(text)

	if m != nil && finalIdx >= 0 {
		return Step{}, errBothActionAndFinal
	}

	if finalIdx >= 0 {
		return Step{
			Kind:    StepFinal,
			Thought: thought(text[:finalIdx]),
			Answer:  strings.TrimSpace(text[finalIdx+len(finalAnswerMarker):]),
		}, nil
	}

	if m != nil {
		action := strings.TrimSpace(strings.Trim(text[m[2]:m[3]], "*` "))
		input := text[m[4]:m[5]]
		if i := strings.Index(input, observationMarker); i >= 0 {
			input = input[:i]
		}
		input = strings.TrimSpace(strings.Trim(strings.TrimSpace(input), "`"))
		input = strings.TrimPrefix(input, "json\n")

		step := Step{Kind: StepTool, Thought: thought(text[:m[0]]), Action: action, Input: input}
		if isDelegation(action) {
			step.Kind = StepDelegate
		}
		return step, nil
	}

	if strings.Contains(text, "Action:") {
		return Step{}, errMissingInput
	}
	return Step{}, errMissingAction
}

func isDelegation(action string) bool {
	a := strings.ToLower(action)
	return a == strings.ToLower(DelegateAction) || a == strings.ToLower(AskAction)
}

func thought(s string) string {
	return strings.TrimSpace(thoughtPrefix.ReplaceAllString(strings.TrimSpace(s), ""))
}

// formatCorrection is the observation written after an unparseable reply.
func formatCorrection(err error) string {
	return "Invalid Format: " + err.Error() + ".\n" + formatReminder
}
