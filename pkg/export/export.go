// Package export encodes problems for download, one record at a time, so that
// an export streams straight from the database cursor to the response.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

// Writer encodes problems to an underlying stream.
type Writer interface {
	Write(p *models.Problem) error
	// Close flushes buffered output. It does not close the underlying stream.
	Close() error
}

// Row is the flat shape every export format shares.
type Row struct {
	ProblemNumber    string   `json:"problem_number" yaml:"problem_number"`
	ID               string   `json:"id" yaml:"id"`
	Title            string   `json:"title" yaml:"title"`
	Status           string   `json:"status" yaml:"status"`
	Priority         string   `json:"priority" yaml:"priority"`
	Category         string   `json:"category" yaml:"category"`
	BusinessImpact   string   `json:"business_impact" yaml:"business_impact"`
	RCAPhase         string   `json:"rca_phase" yaml:"rca_phase"`
	AffectedServices []string `json:"affected_services" yaml:"affected_services"`
	KnownErrorID     string   `json:"known_error_id,omitempty" yaml:"known_error_id,omitempty"`
	ReopenCount      int      `json:"reopen_count" yaml:"reopen_count"`
	CreatedAt        string   `json:"created_at" yaml:"created_at"`
	RCAStartedAt     string   `json:"rca_started_at,omitempty" yaml:"rca_started_at,omitempty"`
	RCACompletedAt   string   `json:"rca_completed_at,omitempty" yaml:"rca_completed_at,omitempty"`
	ResolvedAt       string   `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
	ClosedAt         string   `json:"closed_at,omitempty" yaml:"closed_at,omitempty"`
}

// csvHeader matches the field order written by csvWriter.
var csvHeader = []string{
	"problem_number", "id", "title", "status", "priority", "category", "business_impact",
	"rca_phase", "affected_services", "known_error_id", "reopen_count", "created_at",
	"rca_started_at", "rca_completed_at", "resolved_at", "closed_at",
}

// NewRow flattens a problem. Timestamps are RFC 3339 in UTC.
func NewRow(p *models.Problem) Row {
	r := Row{
		ProblemNumber:    p.ProblemNumber,
		ID:               p.ID.String(),
		Title:            p.Title,
		Status:           string(p.Status),
		Priority:         string(p.Priority),
		Category:         string(p.Category),
		BusinessImpact:   string(p.BusinessImpact),
		RCAPhase:         string(p.RCAPhase),
		AffectedServices: p.AffectedServices,
		ReopenCount:      p.ReopenCount,
		CreatedAt:        formatTime(&p.CreatedAt),
		RCAStartedAt:     formatTime(p.RCAStartedAt),
		RCACompletedAt:   formatTime(p.RCACompletedAt),
		ResolvedAt:       formatTime(p.ResolvedAt),
		ClosedAt:         formatTime(p.ClosedAt),
	}
	if r.AffectedServices == nil {
		r.AffectedServices = []string{}
	}
	if p.KnownErrorID != nil {
		r.KnownErrorID = p.KnownErrorID.String()
	}
	return r
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// NewWriter returns a Writer for format writing to w.
func NewWriter(format models.ExportFormat, w io.Writer) (Writer, error) {
	switch format {
	case models.ExportFormatCSV, "":
		return &csvWriter{w: csv.NewWriter(w)}, nil
	case models.ExportFormatJSON:
		return &jsonWriter{enc: json.NewEncoder(w)}, nil
	case models.ExportFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		return &yamlWriter{enc: enc}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// ============================================================================
// Formats
// ============================================================================

type csvWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

func (c *csvWriter) Write(p *models.Problem) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	r := NewRow(p)
	return c.w.Write([]string{
		r.ProblemNumber, r.ID, r.Title, r.Status, r.Priority, r.Category, r.BusinessImpact,
		r.RCAPhase, strings.Join(r.AffectedServices, ";"), r.KnownErrorID,
		strconv.Itoa(r.ReopenCount), r.CreatedAt, r.RCAStartedAt, r.RCACompletedAt,
		r.ResolvedAt, r.ClosedAt,
	})
}

// Close writes the header for an empty export so the file is still a valid table.
func (c *csvWriter) Close() error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	c.w.Flush()
	return c.w.Error()
}

// jsonWriter writes newline-delimited JSON.
type jsonWriter struct {
	enc *json.Encoder
}

func (j *jsonWriter) Write(p *models.Problem) error {
	return j.enc.Encode(NewRow(p))
}

func (j *jsonWriter) Close() error { return nil }

// yamlWriter writes one YAML document per problem.
type yamlWriter struct {
	enc *yaml.Encoder
}

func (y *yamlWriter) Write(p *models.Problem) error {
	return y.enc.Encode(NewRow(p))
}

func (y *yamlWriter) Close() error {
	return y.enc.Close()
}
