package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/charmbracelet/log"
)

// DumpResult describes the database component written by DumpDatabase.
type DumpResult struct {
	Method string
	Empty  bool
	Size   int64
}

// Dumper tries each strategy in order until one yields a complete dump.
type Dumper struct {
	strategies []DumpStrategy
	timeout    time.Duration
	logger     *log.Logger
}

func NewDumper(logger *log.Logger, timeout time.Duration, strategies ...DumpStrategy) *Dumper {
	return &Dumper{strategies: strategies, timeout: timeout, logger: logger}
}

// DumpDatabase writes the dump of dbPath to outPath. A missing database is
// a freshly provisioned system: the dump is a header comment only.
func (d *Dumper) DumpDatabase(ctx context.Context, dbPath, outPath string) (*DumpResult, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		header := fmt.Sprintf("-- vaultkeep: no database at %s when this backup was taken\n-- restoring this dump produces an empty database\n", dbPath)
		if err := writeDump(outPath, bytes.NewBufferString(header).WriteTo); err != nil {
			return nil, err
		}
		d.logger.Warn("database file missing, writing empty dump", "path", dbPath)
		return &DumpResult{Method: "none", Empty: true, Size: int64(len(header))}, nil
	}

	var errs []error
	for _, s := range d.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if d.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, d.timeout)
		}
		err := writeDump(outPath, func(w io.Writer) (int64, error) {
			return 0, s.Dump(attemptCtx, w)
		})
		cancel()

		if err == nil {
			err = checkComplete(outPath)
		}
		if err != nil {
			d.logger.Debug("dump strategy failed", "strategy", s.Name(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			os.Remove(outPath)
			continue
		}

		info, err := os.Stat(outPath)
		if err != nil {
			return nil, err
		}
		d.logger.Info("database dumped", "strategy", s.Name(), "size", info.Size())
		return &DumpResult{Method: s.Name(), Size: info.Size()}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("all dump strategies failed: %w", errors.Join(errs...))
}

func writeDump(outPath string, fill func(io.Writer) (int64, error)) error {
	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	if _, err := fill(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// checkComplete rejects truncated output: a sqlite dump always ends in COMMIT.
func checkComplete(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			last = string(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if last != "COMMIT;" {
		return models.Integrity("dump is incomplete (no trailing COMMIT)")
	}
	return nil
}
