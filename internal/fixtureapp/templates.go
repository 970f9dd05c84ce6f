package fixtureapp

import (
	"embed"
	"html/template"
)

//go:embed templates/*.tmpl
var templateFiles embed.FS

const templatePattern = "templates/*.tmpl"

func parseTemplates() *template.Template {
	return template.Must(template.ParseFS(templateFiles, templatePattern))
}
