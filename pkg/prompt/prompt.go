// Package prompt renders the model prompts used by each pipeline stage.
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var files embed.FS

var templates = template.Must(template.ParseFS(files, "templates/*.tmpl"))

// PlotlyVersion is the plotly release the sandbox renders with.
const PlotlyVersion = "6.0.1"

// DataSpec asks for {"data": [...], "spec": {...}} answering question.
func DataSpec(question string) (string, error) {
	return render("data_spec.tmpl", struct{ Question string }{question})
}

// Code asks for Plotly Express code drawing the chart described by specJSON.
func Code(specJSON string) (string, error) {
	return render("code.tmpl", struct{ Spec, PlotlyVersion string }{specJSON, PlotlyVersion})
}

// SQL asks for one PostgreSQL query over the football schema answering question.
func SQL(question string) (string, error) {
	return render("sql.tmpl", struct{ Question string }{question})
}

// Design asks for a Vega-Lite spec for question given a JSON data sample.
func Design(question, sampleJSON string) (string, error) {
	return render("design.tmpl", struct{ Question, Sample string }{question, sampleJSON})
}

func render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return sb.String(), nil
}
