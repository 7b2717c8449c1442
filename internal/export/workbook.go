// Package export renders a recomputed pipeline as a lineage workbook.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/graph"
	"github.com/rpattn/dataflow/internal/registry"
	"github.com/rpattn/dataflow/internal/xjson"
)

const (
	SheetOperators = "Operators"
	SheetFields    = "Fields"
	SheetLineage   = "Lineage"
	SheetSamples   = "Samples"
)

// Options controls optional workbook content.
type Options struct {
	// Registry supplies cached sample rows; without it no Samples sheet is written.
	Registry *registry.Registry
}

type sheetWriter struct {
	file  *excelize.File
	name  string
	row   int
	style int
}

func (s *sheetWriter) append(values ...any) error {
	s.row++
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return err
	}
	if err := s.file.SetSheetRow(s.name, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", s.name, s.row, err)
	}
	return nil
}

func (s *sheetWriter) header(columns ...any) error {
	if err := s.append(columns...); err != nil {
		return err
	}
	if err := s.file.SetRowStyle(s.name, s.row, s.row, s.style); err != nil {
		return err
	}
	last, err := excelize.ColumnNumberToName(len(columns))
	if err != nil {
		return err
	}
	return s.file.SetColWidth(s.name, "A", last, 20)
}

// WriteLineageWorkbook writes the operators, their output fields and the
// lineage of every terminal field of p as an xlsx document.
func WriteLineageWorkbook(w io.Writer, p domain.Pipeline, opts Options) error {
	idx, err := graph.Build(p)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	sheet := func(name string) (*sheetWriter, error) {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
		return &sheetWriter{file: f, name: name, style: style}, nil
	}

	if err := f.SetSheetName("Sheet1", SheetOperators); err != nil {
		return fmt.Errorf("rename default sheet: %w", err)
	}
	operators := &sheetWriter{file: f, name: SheetOperators, style: style}
	if err := writeOperators(operators, p, idx); err != nil {
		return err
	}

	fields, err := sheet(SheetFields)
	if err != nil {
		return err
	}
	if err := writeFields(fields, p, idx); err != nil {
		return err
	}

	lineage, err := sheet(SheetLineage)
	if err != nil {
		return err
	}
	if err := writeLineage(lineage, p, idx); err != nil {
		return err
	}

	if opts.Registry != nil {
		samples, err := sheet(SheetSamples)
		if err != nil {
			return err
		}
		if err := writeSamples(samples, p, idx, opts.Registry); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeOperators(s *sheetWriter, p domain.Pipeline, idx *graph.Index) error {
	if err := s.header("Node", "Node name", "Upstream", "Operator", "Kind", "Status", "Message", "Output fields"); err != nil {
		return err
	}
	for _, id := range idx.Order() {
		node, _ := idx.Node(id)
		for _, op := range node.Formula {
			status, message := "ok", ""
			switch {
			case op.Error != nil:
				status, message = string(op.Error.Kind), op.Error.Message
			case len(op.FieldErrors) > 0:
				status, message = "FieldErrors", joinFieldErrors(op.FieldErrors)
			}
			err := s.append(node.ID, node.Name, strings.Join(idx.Inbound(node.ID), ", "),
				op.ID, string(op.Kind), status, message, len(op.OutputFields))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFields(s *sheetWriter, p domain.Pipeline, idx *graph.Index) error {
	if err := s.header("Node", "Operator", "Position", "Alias", "Technical name", "Type", "Field id", "Source", "Origin name", "Origin node", "Primary key"); err != nil {
		return err
	}
	for _, id := range idx.Order() {
		node, _ := idx.Node(id)
		for _, op := range node.Formula {
			for i, field := range op.OutputFields {
				err := s.append(node.ID, op.ID, i+1, field.Alias, field.NameEn, string(field.DataType),
					field.ID, field.SourceID, field.OriginName, field.SourceNodeID, field.PrimaryKey)
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// writeLineage traces every output field of a terminal operator: sinks, and
// the last operator of nodes nothing reads from.
func writeLineage(s *sheetWriter, p domain.Pipeline, idx *graph.Index) error {
	if err := s.header("Node", "Operator", "Column", "Alias", "Field id", "Source", "Hops", "Path"); err != nil {
		return err
	}
	for _, id := range idx.Order() {
		node, _ := idx.Node(id)
		for i, op := range node.Formula {
			terminal := op.Kind.IsSink() || (i == len(node.Formula)-1 && len(idx.Outbound(id)) == 0)
			if !terminal || op.Error != nil {
				continue
			}
			for _, field := range op.OutputFields {
				steps := p.Lineage(op.ID, field.Key())
				column := field.NameEn
				if !op.Kind.IsSink() {
					column = ""
				}
				err := s.append(node.ID, op.ID, column, field.Alias, field.ID, field.SourceID, len(steps), formatPath(steps))
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func writeSamples(s *sheetWriter, p domain.Pipeline, idx *graph.Index, reg *registry.Registry) error {
	for _, id := range idx.Order() {
		node, _ := idx.Node(id)
		last, ok := node.Last()
		if !ok || last.Error != nil {
			continue
		}
		rows, found := sampleRows(reg, last)
		if !found {
			continue
		}
		title := []any{"Node " + node.ID}
		for _, field := range last.OutputFields {
			title = append(title, field.Alias)
		}
		if err := s.header(title...); err != nil {
			return err
		}
		for _, row := range rows {
			values := []any{""}
			for _, field := range last.OutputFields {
				values = append(values, formatValue(row[field.ID]))
			}
			if err := s.append(values...); err != nil {
				return err
			}
		}
		s.row++
	}
	return nil
}

// sampleRows returns the rows cached for an operator. Source operators fall
// back to the rows prefetched for their table or view.
func sampleRows(reg *registry.Registry, op domain.Operator) ([]registry.Row, bool) {
	if rows, found := reg.ExampleData(op.ID); found && len(rows) > 0 {
		return rows, true
	}
	if cfg, ok := op.Config.(domain.SourceConfig); ok && cfg.ReferenceID != "" {
		rows, found := reg.ExampleData(cfg.ReferenceID)
		return rows, found && len(rows) > 0
	}
	return nil, false
}

func formatPath(steps []domain.LineageStep) string {
	parts := make([]string, 0, len(steps))
	for _, step := range steps {
		parts = append(parts, fmt.Sprintf("%s/%s(%s)", step.NodeID, step.Kind, step.Alias))
	}
	return strings.Join(parts, " <- ")
}

func joinFieldErrors(errs []domain.FieldError) string {
	messages := make([]string, 0, len(errs))
	for _, fe := range errs {
		messages = append(messages, fe.FieldID+": "+fe.Message)
	}
	return strings.Join(messages, "; ")
}

// FileName returns the download name of the workbook of p.
func FileName(p domain.Pipeline) string {
	return "lineage-" + sanitizeFileComponent(p.Name) + ".xlsx"
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "pipeline"
	}
	return result
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case []byte:
		return string(v)
	case map[string]any, []any:
		encoded, err := xjson.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
