package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

// trialRecord is the JSONL wire form of one consumed trial index: either a
// completed result or a skip marker. Records are written in trial-index
// order and the ordering is preserved on import.
type trialRecord struct {
	Index    int              `json:"trial_index"`
	Skipped  bool             `json:"skipped,omitempty"`
	Ranks    map[string][]int `json:"ranks,omitempty"`
	Warnings []sbc.Warning    `json:"warnings,omitempty"`
}

// ExportJSONL writes a run as a header line (id + config) followed by one
// line per consumed trial index, completed and skipped interleaved in index
// order.
func ExportJSONL(w io.Writer, run *sbc.CalibrationRun) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	header := struct {
		ID     string        `json:"id"`
		Config sbc.RunConfig `json:"config"`
	}{ID: run.ID, Config: run.Config}
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("writing run header: %w", err)
	}

	skipped := make(map[int]bool, len(run.Skipped))
	for _, idx := range run.Skipped {
		skipped[idx] = true
	}
	ri := 0
	for idx := 0; idx < run.Cursor(); idx++ {
		var rec trialRecord
		if skipped[idx] {
			rec = trialRecord{Index: idx, Skipped: true}
		} else {
			res := run.Results[ri]
			ri++
			rec = trialRecord{Index: res.Index, Ranks: res.Ranks, Warnings: res.Warnings}
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("writing trial %d: %w", idx, err)
		}
	}
	return bw.Flush()
}

// ImportJSONL reads a run previously written by ExportJSONL.
func ImportJSONL(r io.Reader) (*sbc.CalibrationRun, error) {
	dec := json.NewDecoder(r)

	var header struct {
		ID     string        `json:"id"`
		Config sbc.RunConfig `json:"config"`
	}
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("reading run header: %w", err)
	}
	run := &sbc.CalibrationRun{ID: header.ID, Config: header.Config}

	for {
		var rec trialRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("reading trial record: %w", err)
		}
		if rec.Skipped {
			if err := run.Skip(rec.Index); err != nil {
				return nil, fmt.Errorf("importing skip: %w", err)
			}
			continue
		}
		res := sbc.TrialResult{Index: rec.Index, Ranks: rec.Ranks, Warnings: rec.Warnings}
		if err := run.Append(res); err != nil {
			return nil, fmt.Errorf("importing trial: %w", err)
		}
	}
	return run, nil
}
