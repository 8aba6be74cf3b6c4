// Package highpointtest writes small raster files for tests.
package highpointtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// A DTED describes a DTED file.
type DTED struct {
	LonOrigin   string // DDDMMSSH, e.g. 0860000E.
	LatOrigin   string // DDDMMSSH, e.g. 0270000N.
	LonInterval int    // Tenths of arc seconds, at most 9999.
	LatInterval int    // Tenths of arc seconds, at most 9999.
	Rows        [][]int16

	// BadChecksums lists longitude lines whose checksum is corrupted.
	BadChecksums []int

	// TapeLabels prepends VOL and HDR records.
	TapeLabels bool
}

// Bytes returns the encoded DTED file. It panics if a field does not fit in
// the user header label.
func (d *DTED) Bytes() []byte {
	height := len(d.Rows)
	width := 0
	if height > 0 {
		width = len(d.Rows[0])
	}

	b := &bytes.Buffer{}
	if d.TapeLabels {
		b.WriteString(fmt.Sprintf("%-80s", "VOL1"))
		b.WriteString(fmt.Sprintf("%-80s", "HDR1"))
	}
	uhl := "UHL1" +
		fixedWidthField("LonOrigin", d.LonOrigin, 8) +
		fixedWidthField("LatOrigin", d.LatOrigin, 8) +
		fixedWidthField("LonInterval", fmt.Sprintf("%04d", d.LonInterval), 4) +
		fixedWidthField("LatInterval", fmt.Sprintf("%04d", d.LatInterval), 4) +
		fmt.Sprintf("%-4s%-3s%-12s", "NA", "U", "") +
		fixedWidthField("width", fmt.Sprintf("%04d", width), 4) +
		fixedWidthField("height", fmt.Sprintf("%04d", height), 4) +
		fmt.Sprintf("0%-24s", "")
	b.WriteString(uhl)
	b.WriteString(fmt.Sprintf("%-648s", "DSIU"))
	b.WriteString(fmt.Sprintf("%-2700s", "ACC"))

	for column := range width {
		record := make([]byte, 8+2*height)
		record[0] = 0xaa
		record[1] = byte(column >> 16)
		record[2] = byte(column >> 8)
		record[3] = byte(column)
		binary.BigEndian.PutUint16(record[4:], uint16(column))
		binary.BigEndian.PutUint16(record[6:], 0)
		// Data records run south to north.
		for i := range height {
			elevation := d.Rows[height-1-i][column]
			u := uint16(elevation)
			if elevation < 0 {
				u = 0x8000 | uint16(-elevation)
			}
			binary.BigEndian.PutUint16(record[8+2*i:], u)
		}
		var checksum uint32
		for _, c := range record {
			checksum += uint32(c)
		}
		for _, badChecksum := range d.BadChecksums {
			if badChecksum == column {
				checksum++
			}
		}
		b.Write(record)
		_ = binary.Write(b, binary.BigEndian, checksum)
	}
	return b.Bytes()
}

// fixedWidthField returns value, panicking if it is not width bytes long.
func fixedWidthField(name, value string, width int) string {
	if len(value) != width {
		panic(fmt.Sprintf("%s: %q is not %d bytes", name, value, width))
	}
	return value
}

// WriteFile writes d to a new file in a temporary directory and returns its
// name.
func (d *DTED) WriteFile(tb testing.TB) string {
	tb.Helper()
	return writeFile(tb, "test.dt1", d.Bytes())
}

func writeFile(tb testing.TB, base string, data []byte) string {
	tb.Helper()
	name := filepath.Join(tb.TempDir(), base)
	if err := os.WriteFile(name, data, 0o666); err != nil {
		tb.Fatal(err)
	}
	return name
}
