// Package groundtruth loads the navigation tasks: a question, where the
// walk starts and the reference route to the goal.
package groundtruth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

// #region record
// Record is one ground-truth task.
type Record struct {
	Question      string           `json:"question"`
	QuestionIdx   int              `json:"question_idx"`
	Idx           int              `json:"idx"`
	From          string           `json:"from"`
	To            string           `json:"to"`
	Service       string           `json:"service"`
	TotalWeight   float64          `json:"total_weight"`
	TotalSteps    int              `json:"total_steps"`
	CompleteRoute []graph.Position `json:"complete_route"`
}

// Start is the first node of the reference route, where every episode for
// this task begins.
func (r Record) Start() graph.Position {
	return r.CompleteRoute[0]
}

// Goal is the filename of the destination viewpoint.
func (r Record) Goal() string {
	if r.To != "" {
		return r.To
	}
	return r.CompleteRoute[len(r.CompleteRoute)-1].Filename
}

// Validate reports records that cannot seed an episode.
func (r Record) Validate() error {
	if r.Question == "" {
		return errors.New("empty question")
	}
	if len(r.CompleteRoute) == 0 {
		return errors.New("empty route")
	}
	for i, p := range r.CompleteRoute {
		if p.Filename == "" {
			return fmt.Errorf("route node %d has no filename", i)
		}
	}
	return nil
}

// #endregion record

// #region loader
// Load reads and validates a ground-truth JSON array.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ground truth %s: %w", path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse ground truth %s: %w", path, err)
	}
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("ground truth %s record %d: %w", path, i, err)
		}
	}
	return records, nil
}

// Window returns at most limit records starting at offset. A limit of zero
// or less means all remaining records.
func Window(records []Record, offset, limit int) []Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

// #endregion loader
