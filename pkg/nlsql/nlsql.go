// Package nlsql translates football questions into read-only PostgreSQL.
package nlsql

import (
	"context"
	"strings"

	"github.com/pitchql/pitchql/pkg/apperr"
	"github.com/pitchql/pitchql/pkg/parse"
	"github.com/pitchql/pitchql/pkg/prompt"
	"github.com/pitchql/pitchql/pkg/validate"
)

// Invoker sends a prompt to the SQL stage model.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Translator produces guarded SQL from natural-language questions.
type Translator struct {
	model Invoker
}

// New returns a Translator that calls model.
func New(model Invoker) *Translator {
	return &Translator{model: model}
}

// Translate returns one SELECT statement answering question. Statements the
// read-only guard rejects fail with UnsafeSQL.
func (t *Translator) Translate(ctx context.Context, question string) (string, error) {
	p, err := prompt.SQL(question)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "translate", err)
	}
	raw, err := t.model.Invoke(ctx, p)
	if err != nil {
		return "", err
	}
	return validate.SQL(Clean(raw))
}

// Clean strips code fences and one trailing semicolon from model output.
func Clean(raw string) string {
	sql := parse.StripFences(raw)
	if strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}
