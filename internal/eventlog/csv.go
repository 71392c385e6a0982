package eventlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go-hep.org/x/hep/csvutil"
)

// CSVSource reads steps from a comma separated file holding the Columns in
// order. Lines starting with '#' are comments; the header is written as one.
type CSVSource struct {
	Path string
}

func (s *CSVSource) Scan(ctx context.Context, fn func(*Step) error) error {
	tbl, err := csvutil.Open(s.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Path, err)
	}
	defer tbl.Close()
	tbl.Reader.Comma = ','
	tbl.Reader.Comment = '#'

	rows, err := tbl.ReadRows(0, -1)
	if err != nil {
		return fmt.Errorf("read rows of %s: %w", s.Path, err)
	}
	defer rows.Close()

	var (
		st Step
		n  int64
	)
	for rows.Next() {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		n++
		err = rows.Scan(
			&st.EventID, &st.TrackID, &st.ParentID,
			&st.ParticleName, &st.PDGCode,
			&st.XPre, &st.YPre, &st.ZPre,
			&st.XPost, &st.YPost, &st.ZPost,
			&st.Edep, &st.KinEPre, &st.KinEPost,
			&st.StepLength, &st.ProcessName, &st.VolumeName,
		)
		if err != nil {
			return fmt.Errorf("%s row %d: %w", s.Path, n, err)
		}
		if err := fn(&st); err != nil {
			return err
		}
	}
	// Err reports io.EOF once ReadRows(0, -1) has consumed the whole file.
	if err := rows.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read %s: %w", s.Path, err)
	}
	return nil
}

// CSVWriter writes steps in the format read by CSVSource.
type CSVWriter struct {
	tbl *csvutil.Table
}

func CreateCSV(path string) (*CSVWriter, error) {
	tbl, err := csvutil.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	tbl.Writer.Comma = ','
	if err := tbl.WriteHeader("# " + strings.Join(Columns, ",") + "\n"); err != nil {
		tbl.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &CSVWriter{tbl: tbl}, nil
}

func (w *CSVWriter) Write(st *Step) error {
	return w.tbl.WriteRow(
		st.EventID, st.TrackID, st.ParentID,
		st.ParticleName, st.PDGCode,
		st.XPre, st.YPre, st.ZPre,
		st.XPost, st.YPost, st.ZPost,
		st.Edep, st.KinEPre, st.KinEPost,
		st.StepLength, st.ProcessName, st.VolumeName,
	)
}

func (w *CSVWriter) Close() error {
	return w.tbl.Close()
}
