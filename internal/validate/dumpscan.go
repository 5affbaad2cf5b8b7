package validate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/aelpxy/vaultkeep/pkg/models"
)

var (
	createTableRe = regexp.MustCompile("^CREATE TABLE (?:IF NOT EXISTS )?[\"`\\[]?([^\"`\\]\\s(]+)")
	insertRe      = regexp.MustCompile("^INSERT INTO [\"`\\[]?([^\"`\\]\\s(]+)")
)

// DumpStats is what a text scan of a logical dump reveals.
type DumpStats struct {
	Tables []string
	Rows   map[string]int
	Bytes  int64
}

func (s *DumpStats) TotalRows() int {
	total := 0
	for _, n := range s.Rows {
		total += n
	}
	return total
}

func (s *DumpStats) HasTable(name string) bool {
	return slices.Contains(s.Tables, name)
}

func ScanDump(r io.Reader) (*DumpStats, error) {
	stats := &DumpStats{Rows: map[string]int{}}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		stats.Bytes += int64(len(line)) + 1

		if m := createTableRe.FindStringSubmatch(line); m != nil {
			if !strings.HasPrefix(m[1], "sqlite_") {
				stats.Tables = append(stats.Tables, m[1])
			}
			continue
		}
		if m := insertRe.FindStringSubmatch(line); m != nil {
			stats.Rows[m[1]]++
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to scan dump: %w", err)
	}
	return stats, nil
}

func ScanDumpFile(path string) (*DumpStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ScanDump(f)
}

// CheckDump records the structural dump checks on report. declaredEmpty
// downgrades a schema-less dump to a warning: it is what a backup of a
// freshly provisioned system looks like.
func CheckDump(report *models.ValidationReport, stats *DumpStats, coreTables []string, declaredEmpty bool) {
	missing := func(detail string) {
		if declaredEmpty {
			report.Warn(CheckDumpSchema, detail+" (database was absent at backup time)")
			return
		}
		report.Fail(CheckDumpSchema, detail)
		report.Corrupt = append(report.Corrupt, models.BundleDatabaseFile)
	}

	if len(stats.Tables) == 0 {
		missing("dump contains no CREATE TABLE statements")
		report.Warn(CheckDumpRows, "dump contains no rows")
		return
	}

	var found []string
	for _, t := range coreTables {
		if stats.HasTable(t) {
			found = append(found, t)
		}
	}
	if len(found) == 0 {
		missing(fmt.Sprintf("none of the core tables %s are defined", strings.Join(coreTables, ", ")))
	} else {
		report.Pass(CheckDumpSchema, fmt.Sprintf("%d tables, core tables present: %s", len(stats.Tables), strings.Join(found, ", ")))
	}

	if stats.TotalRows() == 0 {
		report.Warn(CheckDumpRows, "dump contains no rows")
	} else {
		report.Pass(CheckDumpRows, fmt.Sprintf("%d rows", stats.TotalRows()))
	}
}
