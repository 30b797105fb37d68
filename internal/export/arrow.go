// Package export writes final rank sequences in columnar form for external
// analysis and plotting tools: one Int64 column per quantity element plus
// the trial index, as an Arrow IPC stream.
package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

// Metadata keys attached to the exported schema.
const (
	MetaRunID     = "run_id"
	MetaNumDraws  = "num_draws"
	MetaNumTrials = "num_trials"
)

// WriteArrowIPC writes the run's completed trials as one Arrow record:
// a "trial" column holding trial indexes (skipped indexes absent), then one
// column per quantity element in configuration order. Run configuration
// needed to interpret the ranks (L, requested trials) rides along as schema
// metadata.
func WriteArrowIPC(w io.Writer, run *sbc.CalibrationRun) error {
	labels := run.ElementLabels()
	fields := make([]arrow.Field, 0, len(labels)+1)
	fields = append(fields, arrow.Field{Name: "trial", Type: arrow.PrimitiveTypes.Int64})
	for _, label := range labels {
		fields = append(fields, arrow.Field{Name: label, Type: arrow.PrimitiveTypes.Int64})
	}
	md := arrow.NewMetadata(
		[]string{MetaRunID, MetaNumDraws, MetaNumTrials},
		[]string{run.ID, strconv.Itoa(run.Config.NumDraws), strconv.Itoa(run.Config.NumTrials)},
	)
	schema := arrow.NewSchema(fields, &md)

	pool := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(pool, schema)
	defer builder.Release()

	trialCol := builder.Field(0).(*array.Int64Builder)
	for _, res := range run.Results {
		trialCol.Append(int64(res.Index))
	}
	series := run.RankSeries()
	for i, label := range labels {
		col := builder.Field(i + 1).(*array.Int64Builder)
		for _, r := range series[label] {
			col.Append(int64(r))
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(pool))
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("writing arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing arrow stream: %w", err)
	}
	return nil
}
