package handler

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	pageItem     = "item.html"
	pageOrder    = "order.html"
	pageSuccess  = "success.html"
	pageCancel   = "cancel.html"
	pageNotFound = "not_found.html"
	pageError    = "error.html"
)

type pages struct {
	byName map[string]*template.Template
}

func mustParsePages() *pages {
	p := &pages{byName: map[string]*template.Template{}}
	for _, name := range []string{pageItem, pageOrder, pageSuccess, pageCancel, pageNotFound, pageError} {
		p.byName[name] = template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
	}
	return p
}

// render executes the page into a buffer first so a template failure never
// produces a half-written 200.
func (p *pages) render(w http.ResponseWriter, r *http.Request, code int, name string, data any) {
	var buf bytes.Buffer
	if err := p.byName[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		zctx.From(r.Context()).Error("Render page", zap.String("page", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
