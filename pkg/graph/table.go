package graph

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Required edge table columns.
const (
	ColEdgeID = "edge_id"
	ColU      = "u"
	ColV      = "v"
	ColRisk   = "risk_score"
)

// ReadEdgeTable parses a CSV edge table with a header row.
// Only the required columns are read; extra columns are ignored.
func ReadEdgeTable(r io.Reader) ([]EdgeRow, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: table is empty", ErrConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrConfig, err)
	}

	cols := map[string]int{ColEdgeID: -1, ColU: -1, ColV: -1, ColRisk: -1}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, ok := cols[name]; ok {
			cols[name] = i
		}
	}
	var missing []string
	for _, name := range []string{ColEdgeID, ColU, ColV, ColRisk} {
		if cols[name] < 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", ErrConfig, strings.Join(missing, ", "))
	}

	var rows []EdgeRow
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrConfig, line, err)
		}

		field := func(name string) (string, error) {
			i := cols[name]
			if i >= len(rec) {
				return "", fmt.Errorf("%w: line %d: missing %s value", ErrConfig, line, name)
			}
			return strings.TrimSpace(rec[i]), nil
		}

		var row EdgeRow
		for _, c := range []struct {
			name string
			dst  *int64
		}{{ColEdgeID, &row.EdgeID}, {ColU, &row.U}, {ColV, &row.V}} {
			s, err := field(c.name)
			if err != nil {
				return nil, err
			}
			v, err := ParseID(s)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %s: %v", ErrConfig, line, c.name, err)
			}
			*c.dst = v
		}

		s, err := field(ColRisk)
		if err != nil {
			return nil, err
		}
		risk, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: risk_score %q is not a number", ErrConfig, line, s)
		}
		row.Risk = risk

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: table has no rows", ErrConfig)
	}
	return rows, nil
}

// ReadEdgeTableFile opens path and parses it with ReadEdgeTable.
func ReadEdgeTableFile(path string) ([]EdgeRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open edge table: %w", err)
	}
	defer f.Close()
	return ReadEdgeTable(f)
}

// ParseID accepts plain integers and integral floats such as "1234.0",
// which is how ids come out of tools that store them as float columns.
func ParseID(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int64(f), nil
}
