package document

import (
	"bytes"
	"fmt"
	"html/template"
	"io"

	"github.com/yuin/goldmark"
)

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Markdown returns the document text as markdown.
func (d *Document) Markdown() string {
	return d.Text()
}

// RenderHTML renders the document text as markdown into a standalone HTML page.
func (d *Document) RenderHTML(w io.Writer) error {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(d.Text()), &body); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}
	return pageTmpl.Execute(w, struct {
		Title string
		Body  template.HTML
	}{
		Title: d.Title(),
		Body:  template.HTML(body.String()),
	})
}
