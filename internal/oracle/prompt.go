package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

// #region stop-prompt
const stopInstruction = `You guide a person through a city using street-view panoramas.
Given their request and the panorama at the current spot, decide whether the
destination that satisfies the request is visible here.

Reply with a single JSON object:
{"observation": "<what the panorama shows>", "thoughts": "<your reasoning>", "action": <1 to stop here, 0 to keep walking>}`

func stopPrompt(req Request, backtrackPrompt bool) string {
	var b strings.Builder
	b.WriteString(stopInstruction)
	b.WriteString("\n\nRequest: ")
	b.WriteString(req.Question)
	if backtrackPrompt && req.Backtracked && req.BacktrackHint != nil {
		fmt.Fprintf(&b, "\nYou have just walked back to this spot after leaving it through image %s.", Letter(*req.BacktrackHint))
	}
	return b.String()
}

// #endregion stop-prompt

// #region choice-prompt
const choiceInstruction = `You guide a person through a city using street-view images.
Each image below looks along one walkable direction from the current spot and
is labelled with a letter starting at A. Pick the image whose direction is
most likely to lead to a place that satisfies the request, with a confidence
score between 0 and 1.

Reply with a single JSON object:
{"observation": {"A": "<what image A shows>", "B": "..."}, "thoughts": "<your reasoning>", "action": "<letter>", "score": <confidence>}
The observation object must have exactly one entry per image.`

func choicePrompt(req Request, backtrackPrompt bool) string {
	headings := req.ViewPoint.WalkableHeadings
	var b strings.Builder
	b.WriteString(choiceInstruction)
	fmt.Fprintf(&b, "\n\nThere are %d images.", len(headings))

	if req.LastForwardAzimuth != nil {
		for i, dir := range req.Directions() {
			fmt.Fprintf(&b, "\nImage %s is on your %s.", Letter(i), dir)
		}
		b.WriteString("\nPrefer directions to your FRONT, LEFT or RIGHT; avoid walking BACK.")
	}
	if backtrackPrompt && req.Backtracked && req.BacktrackHint != nil {
		fmt.Fprintf(&b, "\nYou just walked back here because image %s led you astray. Choose differently.", Letter(*req.BacktrackHint))
	}
	if len(req.Retrieved) > 0 {
		b.WriteString("\nOn earlier rounds of this request you visited nearby spots and noted: ")
		b.WriteString(describeNodes(req.Retrieved))
	}
	if len(req.History) > 0 {
		b.WriteString("\nYour most recent positions, oldest first: ")
		b.WriteString(describeNodes(req.History))
	}
	b.WriteString("\n\nRequest: ")
	b.WriteString(req.Question)
	return b.String()
}

// describeNodes renders context nodes compactly as JSON.
func describeNodes(nodes []graph.NodeContext) string {
	type brief struct {
		Filename string           `json:"filename"`
		Visited  string           `json:"visited"`
		Attrs    graph.Attributes `json:"notes,omitempty"`
	}
	out := make([]brief, len(nodes))
	for i, n := range nodes {
		out[i] = brief{Filename: n.Filename, Visited: n.Visited.String(), Attrs: n.Attrs}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// #endregion choice-prompt
