package pipeline

import (
	"context"
	"strings"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/models"
	"github.com/pitchql/pitchql/pkg/validate"
)

// Translator turns a question into guarded SQL.
type Translator interface {
	Translate(ctx context.Context, question string) (string, error)
}

// QueryRunner executes a read-only statement.
type QueryRunner interface {
	RunQuery(ctx context.Context, sql string) (models.ResultSet, error)
}

// QueryInput carries either a question or a raw statement. NL wins when
// both are set.
type QueryInput struct {
	NL  string
	SQL string
}

// Query answers with table rows, from a question or from raw SQL.
type Query struct {
	translator Translator
	db         QueryRunner
}

// NewQuery returns a Query pipeline.
func NewQuery(translator Translator, db QueryRunner) *Query {
	return &Query{translator: translator, db: db}
}

// Run returns the rows for in. The returned response carries the statement
// whenever one was produced, even when err is non-nil.
func (p *Query) Run(ctx context.Context, in QueryInput) (models.QueryResponse, error) {
	var resp models.QueryResponse

	switch {
	case strings.TrimSpace(in.NL) != "":
		sql, err := p.translator.Translate(ctx, strings.TrimSpace(in.NL))
		if err != nil {
			return resp, err
		}
		resp.SQL = sql
	case strings.TrimSpace(in.SQL) != "":
		sql, err := validate.SQL(in.SQL)
		if err != nil {
			return resp, apperr.Newf(apperr.KindUnsafeSQL, "query", "Raw SQL failed safety check")
		}
		resp.SQL = sql
	default:
		return resp, apperr.Newf(apperr.KindMissingInput, "query", "Provide 'nl' or 'sql'")
	}

	rs, err := p.db.RunQuery(ctx, resp.SQL)
	if err != nil {
		return resp, err
	}
	resp.Rows = rs.Total
	resp.Data = rs.Records
	resp.Truncated = rs.Total > len(rs.Records)
	return resp, nil
}
