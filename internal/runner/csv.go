package runner

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/router"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

func init() { Register(domain.TypeCSVCreator, buildCSV) }

// csvWriter appends one row per interval: a timestamp followed by every column
// template resolved against the router.
type csvWriter struct {
	svc  *Service
	opts *domain.CSVCreatorOptions
}

func buildCSV(s *Service) (supervisor.Runner, error) {
	return &csvWriter{svc: s, opts: s.Def.Options.(*domain.CSVCreatorOptions)}, nil
}

func (c *csvWriter) Run(ctx context.Context) error {
	return Every(ctx, c.opts.Interval.Std(), func(context.Context) {
		row := make([]string, 0, len(c.opts.Columns)+1)
		row = append(row, c.svc.Now().UTC().Format(time.RFC3339))
		for _, col := range c.opts.Columns {
			row = append(row, c.svc.Resolve(col))
		}
		if err := c.append(row); err != nil {
			c.svc.IOError("write", err)
			return
		}
		c.svc.Publish(fmt.Sprintf("%d columns written to %s", len(row), filepath.Base(c.opts.Path)))
	})
}

func (c *csvWriter) append(row []string) error {
	if err := os.MkdirAll(filepath.Dir(c.opts.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(c.opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if c.opts.Delimiter != "" {
		w.Comma = []rune(c.opts.Delimiter)[0]
	}
	if info.Size() == 0 {
		if err := w.Write(csvHeader(c.opts.Columns)); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// csvHeader names a column after the service it reads when the column is a
// single token, and after its template text otherwise.
func csvHeader(columns []string) []string {
	header := make([]string, 0, len(columns)+1)
	header = append(header, "timestamp")
	for _, col := range columns {
		if tokens := router.Tokens(col); len(tokens) == 1 && col == "{"+tokens[0]+".Message}" {
			header = append(header, tokens[0])
			continue
		}
		header = append(header, col)
	}
	return header
}
