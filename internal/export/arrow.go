package export

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// RowSchema is the Arrow schema of exported site rows.
var RowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "run_id", Type: arrow.BinaryTypes.String},
	{Name: "seq", Type: arrow.PrimitiveTypes.Int64},
	{Name: "time", Type: arrow.PrimitiveTypes.Float64},
	{Name: "events", Type: arrow.PrimitiveTypes.Int64},
	{Name: "status", Type: arrow.BinaryTypes.String},
	{Name: "site", Type: arrow.PrimitiveTypes.Int32},
	{Name: "capacity", Type: arrow.PrimitiveTypes.Int32},
	{Name: "non_resistant", Type: arrow.PrimitiveTypes.Int64},
	{Name: "resistant_a", Type: arrow.PrimitiveTypes.Int64},
	{Name: "resistant_b", Type: arrow.PrimitiveTypes.Int64},
	{Name: "resistant_ab", Type: arrow.PrimitiveTypes.Int64},
	{Name: "drug_a", Type: arrow.PrimitiveTypes.Float64},
	{Name: "drug_b", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// recordBatchRows bounds the rows held in one record batch.
const recordBatchRows = 4096

// WriteArrow writes the trajectories as an Arrow IPC file with RowSchema.
// The file format ends in a footer, so w must be seekable.
func WriteArrow(w io.WriteSeeker, trajectories ...Trajectory) error {
	return writeArrow(w, memory.DefaultAllocator, trajectories)
}

// WriteArrowFile creates or truncates path and writes the trajectories to it.
func WriteArrowFile(path string, trajectories ...Trajectory) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteArrow(f, trajectories...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeArrow(w io.WriteSeeker, mem memory.Allocator, trajectories []Trajectory) error {
	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(RowSchema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("creating arrow writer: %w", err)
	}

	b := array.NewRecordBuilder(mem, RowSchema)
	defer b.Release()

	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		rec := b.NewRecord()
		defer rec.Release()
		pending = 0
		if err := fw.Write(rec); err != nil {
			return fmt.Errorf("writing record batch: %w", err)
		}
		return nil
	}

	for _, t := range trajectories {
		for _, r := range Rows(t) {
			appendRow(b, r)
			pending++
			if pending == recordBatchRows {
				if err := flush(); err != nil {
					fw.Close()
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		fw.Close()
		return err
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("closing arrow writer: %w", err)
	}
	return nil
}

func appendRow(b *array.RecordBuilder, r Row) {
	b.Field(0).(*array.StringBuilder).Append(r.RunID)
	b.Field(1).(*array.Int64Builder).Append(r.Seq)
	b.Field(2).(*array.Float64Builder).Append(r.Time)
	b.Field(3).(*array.Int64Builder).Append(r.Events)
	b.Field(4).(*array.StringBuilder).Append(r.Status)
	b.Field(5).(*array.Int32Builder).Append(r.Site)
	b.Field(6).(*array.Int32Builder).Append(r.Capacity)
	b.Field(7).(*array.Int64Builder).Append(r.NonResistant)
	b.Field(8).(*array.Int64Builder).Append(r.ResistantA)
	b.Field(9).(*array.Int64Builder).Append(r.ResistantB)
	b.Field(10).(*array.Int64Builder).Append(r.ResistantAB)
	b.Field(11).(*array.Float64Builder).Append(r.DrugA)
	b.Field(12).(*array.Float64Builder).Append(r.DrugB)
}

// ReadArrow reads back every row of an Arrow IPC file written by WriteArrow.
func ReadArrow(r ipc.ReadAtSeeker) ([]Row, error) {
	return readArrow(r, memory.DefaultAllocator)
}

func readArrow(r ipc.ReadAtSeeker, mem memory.Allocator) ([]Row, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(mem), ipc.WithSchema(RowSchema))
	if err != nil {
		return nil, fmt.Errorf("opening arrow file: %w", err)
	}
	defer fr.Close()

	var rows []Row
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("reading record batch %d: %w", i, err)
		}
		runID := rec.Column(0).(*array.String)
		seq := rec.Column(1).(*array.Int64)
		tm := rec.Column(2).(*array.Float64)
		events := rec.Column(3).(*array.Int64)
		status := rec.Column(4).(*array.String)
		site := rec.Column(5).(*array.Int32)
		capacity := rec.Column(6).(*array.Int32)
		nr := rec.Column(7).(*array.Int64)
		ra := rec.Column(8).(*array.Int64)
		rb := rec.Column(9).(*array.Int64)
		rab := rec.Column(10).(*array.Int64)
		da := rec.Column(11).(*array.Float64)
		db := rec.Column(12).(*array.Float64)
		for j := 0; j < int(rec.NumRows()); j++ {
			rows = append(rows, Row{
				RunID:        strings.Clone(runID.Value(j)),
				Seq:          seq.Value(j),
				Time:         tm.Value(j),
				Events:       events.Value(j),
				Status:       strings.Clone(status.Value(j)),
				Site:         site.Value(j),
				Capacity:     capacity.Value(j),
				NonResistant: nr.Value(j),
				ResistantA:   ra.Value(j),
				ResistantB:   rb.Value(j),
				ResistantAB:  rab.Value(j),
				DrugA:        da.Value(j),
				DrugB:        db.Value(j),
			})
		}
	}
	return rows, nil
}
