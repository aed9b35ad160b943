// Package sclk locates and parses spacecraft clock / SCET correlation
// tables, one file per spacecraft id named sclkscet.<scid>.
package sclk

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/turtacn/telemos/pkg/errors"
)

// Entry is one correlation record.
type Entry struct {
	Sclk float64
	Scet string
	Dut  float64
	Rate float64
}

// Table is a parsed correlation file.
type Table struct {
	SpacecraftID int
	Filename     string
	Entries      []Entry
}

// Provider finds the table for a spacecraft.
type Provider interface {
	Lookup(scid int) (*Table, error)
}

// DirProvider reads tables from Dir.
type DirProvider struct {
	Dir string
}

func (d DirProvider) Path(scid int) string {
	return filepath.Join(d.Dir, fmt.Sprintf("sclkscet.%d", scid))
}

func (d DirProvider) Lookup(scid int) (*Table, error) {
	path := d.Path(scid)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeClockUnavailable, "Lookup", "open "+path, err)
	}
	defer f.Close()

	t, err := Parse(bufio.NewScanner(f))
	if err != nil {
		return nil, errors.New(errors.ErrCodeClockUnavailable, "Lookup", "parse "+path, err)
	}
	t.SpacecraftID = scid
	t.Filename = path
	return t, nil
}

// Parse reads whitespace separated SCLK SCET DUT RATE rows. Blank lines,
// '#' comments and the CCSD/'*' header block are skipped.
func Parse(sc *bufio.Scanner) (*Table, error) {
	t := &Table{}
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "*") ||
			strings.HasPrefix(text, "CCSD") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 4 {
			return nil, fmt.Errorf("line %d: expected 4 columns, got %d", line, len(fields))
		}
		sclk, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: sclk: %w", line, err)
		}
		dut, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: dut: %w", line, err)
		}
		rate, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: rate: %w", line, err)
		}
		t.Entries = append(t.Entries, Entry{Sclk: sclk, Scet: fields[1], Dut: dut, Rate: rate})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(t.Entries) == 0 {
		return nil, fmt.Errorf("no correlation entries")
	}
	return t, nil
}

// Personal.AI order the ending
