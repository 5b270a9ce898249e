package pipeline

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/procintel/sinoscan/internal/schema"
)

// maxLineBytes bounds one tab-delimited export row. The 374-column variant
// with long award descriptions stays well under this.
const maxLineBytes = 4 * 1024 * 1024

// recordSource streams normalized records from one shard in source order.
// Next returns io.EOF at end of shard; a *schema.SchemaError is recoverable
// (skip and continue), any other error is an I/O failure that halts the
// shard at its checkpoint.
type recordSource interface {
	// Next returns the record's source offset even on a schema error so
	// skipped records still advance the checkpoint.
	Next() (int64, *schema.CandidateRecord, error)
	Close() error
}

// openSource opens a shard for streaming. Gzip-compressed input is detected
// by extension; TED shards stream XML documents, everything else streams
// tab-delimited rows through the format registry.
func openSource(shard Shard, registry *schema.Registry) (recordSource, error) {
	if !registry.Known(shard.FormatID) {
		return nil, &schema.SchemaError{FormatID: shard.FormatID, Offset: 0, Reason: "unknown source format"}
	}

	file, err := os.Open(shard.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shard: %w", err)
	}

	var reader io.Reader = file
	closer := []io.Closer{file}
	if strings.HasSuffix(shard.Path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		reader = gz
		closer = append(closer, gz)
	}

	if shard.FormatID == schema.FormatTEDXML {
		return newTEDSource(reader, closer), nil
	}
	return newTSVSource(reader, closer, shard.FormatID, registry), nil
}

// tsvSource streams tab-delimited rows. The source offset is the zero-based
// line number, which is stable across replays of the same shard file.
type tsvSource struct {
	scanner  *bufio.Scanner
	closers  []io.Closer
	formatID string
	registry *schema.Registry
	line     int64
}

func newTSVSource(r io.Reader, closers []io.Closer, formatID string, registry *schema.Registry) *tsvSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &tsvSource{
		scanner:  scanner,
		closers:  closers,
		formatID: formatID,
		registry: registry,
		line:     -1,
	}
}

func (s *tsvSource) Next() (int64, *schema.CandidateRecord, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return s.line, nil, err
		}
		return s.line, nil, io.EOF
	}
	s.line++

	row := strings.Split(s.scanner.Text(), "\t")
	record, err := s.registry.Adapt(s.formatID, row, s.line)
	if err != nil {
		return s.line, nil, err
	}
	return s.line, record, nil
}

func (s *tsvSource) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// tedSource streams concatenated TED notice documents, split on the XML
// declaration each notice starts with. The source offset is the zero-based
// document index within the shard.
type tedSource struct {
	reader  *bufio.Reader
	closers []io.Closer
	buf     []byte
	index   int64
	eof     bool
}

const xmlDeclaration = "<?xml"

func newTEDSource(r io.Reader, closers []io.Closer) *tedSource {
	return &tedSource{
		reader:  bufio.NewReaderSize(r, 256*1024),
		closers: closers,
		index:   -1,
	}
}

func (s *tedSource) Next() (int64, *schema.CandidateRecord, error) {
	doc, err := s.nextDocument()
	if err != nil {
		return s.index, nil, err
	}
	s.index++

	record, err := schema.AdaptTED(doc, s.index)
	if err != nil {
		return s.index, nil, err
	}
	return s.index, record, nil
}

// nextDocument accumulates bytes until the next XML declaration or EOF.
func (s *tedSource) nextDocument() ([]byte, error) {
	for {
		if s.eof {
			if len(s.buf) == 0 {
				return nil, io.EOF
			}
			doc := s.buf
			s.buf = nil
			return doc, nil
		}

		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			if strings.HasPrefix(strings.TrimSpace(string(line)), xmlDeclaration) && len(s.buf) > 0 {
				doc := s.buf
				s.buf = append([]byte(nil), line...)
				return doc, nil
			}
			s.buf = append(s.buf, line...)
		}
		if err == io.EOF {
			s.eof = true
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *tedSource) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DiscoverShards expands an input path into shards: a directory becomes one
// shard per data file in name order, a single file becomes one shard.
func DiscoverShards(inputPath, formatID string) ([]Shard, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("input path: %w", err)
	}

	if !info.IsDir() {
		return []Shard{{Name: filepath.Base(inputPath), Path: inputPath, FormatID: formatID}}, nil
	}

	entries, err := os.ReadDir(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list input directory: %w", err)
	}

	var shards []Shard
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".txt"),
			strings.HasSuffix(name, ".tsv"), strings.HasSuffix(name, ".xml"):
			shards = append(shards, Shard{
				Name:     name,
				Path:     filepath.Join(inputPath, name),
				FormatID: formatID,
			})
		}
	}

	sort.Slice(shards, func(i, j int) bool { return shards[i].Name < shards[j].Name })

	if len(shards) == 0 {
		return nil, fmt.Errorf("no shard files found in %s", inputPath)
	}
	return shards, nil
}
