package handler

import (
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templateFuncs = template.FuncMap{
	"datetime": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}

// parseTemplates собирает встроенные HTML шаблоны; имя шаблона совпадает с именем файла
func parseTemplates() *template.Template {
	return template.Must(template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html"))
}
