// Package frontend serves a minimal HTML inspection page for plan trees.
// Step and plan results are rendered as markdown and sanitized before
// display.
package frontend

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/orangyan/JManus-sub000/ui/service"
)

// Config holds frontend router configuration.
type Config struct {
	// BasePath is the URL prefix where the UI is mounted.
	BasePath string

	// RefreshInterval for auto-refresh of running plans.
	RefreshInterval time.Duration
}

type frontend struct {
	svc      *service.Service
	config   *Config
	tmpl     *template.Template
	md       goldmark.Markdown
	sanitize *bluemonday.Policy
}

// NewRouter creates the HTML inspection router. Mount it under /ui.
func NewRouter(svc *service.Service, cfg *Config) http.Handler {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	f := &frontend{
		svc:    svc,
		config: cfg,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		sanitize: bluemonday.UGCPolicy(),
	}
	f.tmpl = template.Must(template.New("plan").Funcs(template.FuncMap{
		"markdown":   f.markdown,
		"formatTime": formatTime,
	}).Parse(planPageTemplate))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/plans/{planId}", f.handlePlanPage)
	return r
}

// markdown renders untrusted markdown to sanitized HTML for templates.
// Accepts string or *string since several record fields are optional.
func (f *frontend) markdown(source any) template.HTML {
	var text string
	switch v := source.(type) {
	case string:
		text = v
	case *string:
		if v == nil {
			return ""
		}
		text = *v
	default:
		return ""
	}
	var buf bytes.Buffer
	if err := f.md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(f.sanitize.SanitizeBytes(buf.Bytes()))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}

func (f *frontend) handlePlanPage(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	view, err := f.svc.PlanDetails(r.Context(), planID)
	if err != nil {
		http.Error(w, "plan not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Plan            any
		RefreshInterval int
	}{
		Plan:            view,
		RefreshInterval: int(f.config.RefreshInterval.Seconds()),
	}
	if err := f.tmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

const planPageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Plan.Title}}</title>
{{if not .Plan.Completed}}<meta http-equiv="refresh" content="{{.RefreshInterval}}">{{end}}
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 64rem; color: #1a1a1a; }
h1 { font-size: 1.4rem; }
.step { border: 1px solid #ddd; border-radius: 6px; padding: 0.8rem 1rem; margin: 0.6rem 0; }
.status { font-size: 0.8rem; padding: 0.1rem 0.5rem; border-radius: 4px; background: #eee; }
.status.COMPLETED { background: #d4edda; }
.status.FAILED { background: #f8d7da; }
.status.IN_PROGRESS { background: #fff3cd; }
.status.INTERRUPTED { background: #e2e3e5; }
.result { margin-top: 0.5rem; }
.meta { color: #666; font-size: 0.85rem; }
.subplan { margin-left: 1.5rem; border-left: 3px solid #ccc; padding-left: 1rem; }
</style>
</head>
<body>
{{template "plan" .Plan}}
{{define "plan"}}
<h1>{{.Title}}</h1>
<p class="meta">{{.CurrentPlanID}} &middot; started {{formatTime .StartTime}}{{if .Completed}} &middot; completed{{end}}</p>
{{if .UserRequest}}<p>{{.UserRequest}}</p>{{end}}
{{range .Steps}}
<div class="step">
	<span class="status {{.Status}}">{{.Status}}</span>
	{{if .AgentName}}<strong>{{.AgentName}}</strong>{{end}}
	<span>{{.StepRequirement}}</span>
	{{if .Result}}<div class="result">{{markdown .Result}}</div>{{end}}
	{{if .ErrorMessage}}<div class="result">{{.ErrorMessage}}</div>{{end}}
</div>
{{end}}
{{if .Result}}<h2>Result</h2><div class="result">{{markdown .Result}}</div>{{end}}
{{range .SubPlans}}<div class="subplan">{{template "plan" .}}</div>{{end}}
{{end}}
</body>
</html>`
