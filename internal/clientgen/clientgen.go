// Package clientgen writes synthetic client input files for load testing.
package clientgen

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var firstNames = []string{"JOHN", "JANE", "BOB", "ALICE", "CHARLIE", "DIANA", "EVE", "FRANK", "GRACE", "HENRY"}
var lastNames = []string{"SMITH", "DOE", "BROWN", "JOHNSON", "WILLIAMS", "JONES", "GARCIA", "MILLER", "DAVIS", "WILSON"}
var statuses = []string{"Active", "Inactive", "Activo", "Inactivo"}

// Options controls the shape of a generated file.
type Options struct {
	Lines int
	// Share of lines, between 0 and 1, that break exactly one validation rule
	InvalidRatio float64
	Seed         int64
	// Insert a blank line after every BlankEvery records; 0 disables
	BlankEvery int
	CRLF       bool
}

// Summary counts what was written. Blank lines are not counted.
type Summary struct {
	Valid   int
	Invalid int
}

// Generate writes opts.Lines pipe-delimited client lines to w. The output is fully determined by
// the options, so the same seed always produces the same file.
func Generate(w io.Writer, opts Options) (Summary, error) {
	if opts.InvalidRatio < 0 || opts.InvalidRatio > 1 {
		return Summary{}, errors.Errorf("invalid ratio %v is outside [0, 1]", opts.InvalidRatio)
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	terminator := "\n"
	if opts.CRLF {
		terminator = "\r\n"
	}

	out := bufio.NewWriter(w)
	var summary Summary
	for i := 0; i < opts.Lines; i++ {
		var line string
		if rng.Float64() < opts.InvalidRatio {
			line = invalidLine(rng, i, summary.Invalid)
			summary.Invalid++
		} else {
			line = validLine(rng, i)
			summary.Valid++
		}
		if _, err := out.WriteString(line + terminator); err != nil {
			return summary, errors.WithStack(err)
		}
		if opts.BlankEvery > 0 && (i+1)%opts.BlankEvery == 0 {
			if _, err := out.WriteString(terminator); err != nil {
				return summary, errors.WithStack(err)
			}
		}
	}
	return summary, errors.WithStack(out.Flush())
}

// GenerateFile writes the generated lines to path, replacing any existing file.
func GenerateFile(path string, opts Options) (Summary, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Summary{}, errors.WithStack(err)
	}
	f, err := os.Create(path)
	if err != nil {
		return Summary{}, errors.WithStack(err)
	}
	summary, err := Generate(f, opts)
	if closeErr := f.Close(); err == nil {
		err = errors.WithStack(closeErr)
	}
	return summary, err
}

func validLine(rng *rand.Rand, i int) string {
	obligated := ""
	switch i % 3 {
	case 0:
		obligated = "true"
	case 1:
		obligated = "false"
	}
	return strings.Join([]string{
		firstNames[i%len(firstNames)],
		lastNames[(i/len(firstNames))%len(lastNames)],
		formatOrdinal(i + 1),
		statuses[rng.Intn(len(statuses))],
		formatDate(1990+rng.Intn(35), rng.Intn(12)+1, rng.Intn(28)+1),
		boolString(rng.Intn(10) == 0),
		obligated,
	}, "|")
}

// invalidLine breaks one rule, cycling through the rules so every kind of failure shows up.
func invalidLine(rng *rand.Rand, i, n int) string {
	fields := strings.Split(validLine(rng, i), "|")
	switch n % 5 {
	case 0:
		return strings.Join(fields[:4], "|")
	case 1:
		fields[0], fields[1] = strings.Repeat("X", 60), strings.Repeat("Y", 60)
	case 2:
		fields[2] = "ID-" + fields[2]
	case 3:
		fields[3] = "Pending"
	case 4:
		fields[4] = "02/30/2021"
	}
	return strings.Join(fields, "|")
}

func formatOrdinal(n int) string {
	return fmt.Sprintf("%010d", n)
}

func formatDate(year, month, day int) string {
	return fmt.Sprintf("%02d/%02d/%04d", month, day, year)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
