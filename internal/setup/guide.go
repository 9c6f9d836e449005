// ABOUTME: Serves the operator setup guide as rendered HTML.
// ABOUTME: The guide ships as embedded markdown so the binary is self-contained.

package setup

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"
)

//go:embed guide.md
var guideMarkdown []byte

const guidePage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Bambu Gateway Setup</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; max-width: 46rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.6; color: #1a1a1a; }
pre { background: #f4f4f4; padding: 0.75rem; border-radius: 6px; overflow-x: auto; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; border-radius: 4px; font-size: 0.95em; }
pre code { padding: 0; }
h1, h2 { border-bottom: 1px solid #e2e2e2; padding-bottom: 0.3rem; }
</style>
</head>
<body>
{{.Content}}
</body>
</html>
`

// handleGuide renders the embedded setup guide.
func (a *API) handleGuide(w http.ResponseWriter, _ *http.Request) {
	var htmlBuf bytes.Buffer
	if err := goldmark.Convert(guideMarkdown, &htmlBuf); err != nil {
		a.logger.Error("failed to convert markdown", "error", err)
		htmlBuf.WriteString("<p>Failed to render setup guide.</p>")
	}

	data := struct {
		Content template.HTML
	}{
		Content: template.HTML(htmlBuf.String()),
	}

	tmpl := template.Must(template.New("guide").Parse(guidePage))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		a.logger.Error("failed to render setup guide", "error", err)
	}
}
