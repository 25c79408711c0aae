package trackstore

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ironsheep/nrsfm-tracks/internal/tracks"
)

// Encode writes row as the two-line checkpoint layout.
func Encode(w io.Writer, row []tracks.Point) error {
	bw := bufio.NewWriter(w)
	for axis := 0; axis < 2; axis++ {
		for j, p := range row {
			if j > 0 {
				bw.WriteByte(',')
			}
			v := p.X
			if axis == 1 {
				v = p.Y
			}
			bw.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return errors.Wrap(bw.Flush(), "write checkpoint")
}

// Decode parses one checkpoint file. path is only used in error messages.
//
// Any deviation from the layout yields a *tracks.FormatError: a line count
// other than two (blank lines included), a quoted field, a value that is not
// a decimal number, or x and y rows of different lengths. A final newline is
// optional.
func Decode(r io.Reader, path string) ([]tracks.Point, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &tracks.IOError{Op: "read checkpoint", Path: path, Err: err}
	}
	if err := checkLines(data, path); err != nil {
		return nil, err
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows [][]float64
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &tracks.FormatError{Path: path, Line: pe.Line, Reason: pe.Err.Error()}
			}
			return nil, &tracks.IOError{Op: "read checkpoint", Path: path, Err: err}
		}
		line, _ := cr.FieldPos(0)
		if len(rows) == 2 {
			return nil, &tracks.FormatError{Path: path, Line: line, Reason: "more than two rows"}
		}
		vals := make([]float64, len(rec))
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, &tracks.FormatError{Path: path, Line: line, Reason: "column " + strconv.Itoa(i+1) + ": not a number: " + strconv.Quote(field)}
			}
			vals[i] = v
		}
		rows = append(rows, vals)
	}

	if len(rows) != 2 {
		return nil, &tracks.FormatError{Path: path, Reason: "expected 2 rows, found " + strconv.Itoa(len(rows))}
	}
	if len(rows[0]) != len(rows[1]) {
		return nil, &tracks.FormatError{
			Path:   path,
			Line:   2,
			Reason: "x row has " + strconv.Itoa(len(rows[0])) + " values, y row has " + strconv.Itoa(len(rows[1])),
		}
	}

	out := make([]tracks.Point, len(rows[0]))
	for j := range out {
		out[j] = tracks.Point{X: rows[0][j], Y: rows[1][j]}
	}
	return out, nil
}

// checkLines enforces the physical layout that encoding/csv is lenient about.
func checkLines(data []byte, path string) error {
	text := strings.TrimSuffix(string(data), "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			return &tracks.FormatError{Path: path, Line: i + 1, Reason: "blank line"}
		}
		if strings.ContainsRune(line, '"') {
			return &tracks.FormatError{Path: path, Line: i + 1, Reason: "quoted fields are not allowed"}
		}
	}
	if len(lines) != 2 {
		return &tracks.FormatError{Path: path, Reason: "expected 2 lines, found " + strconv.Itoa(len(lines))}
	}
	return nil
}
