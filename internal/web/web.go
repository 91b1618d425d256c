// Package web renders the contest login pages.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/rjsadow/contestgate/internal/db"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer executes the embedded page templates.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// LoginPage is the page shown to anonymous visitors of a contest.
type LoginPage struct {
	Contest    *db.Contest
	Fragment   string // login form template of the active strategy
	Next       string
	LoginError bool
}

// IndexPage is the page shown to logged-in participants.
type IndexPage struct {
	Contest    *db.Contest
	Username   string
	UserString string
}

type formData struct {
	Contest string
	Next    string
}

// Login renders the login page with the form of the active strategy.
func (r *Renderer) Login(w io.Writer, page LoginPage) error {
	var form bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&form, page.Fragment, formData{Contest: page.Contest.Name, Next: page.Next}); err != nil {
		return fmt.Errorf("render %s: %w", page.Fragment, err)
	}
	return r.tmpl.ExecuteTemplate(w, "login.html", struct {
		LoginPage
		Title string
		Form  template.HTML
	}{page, page.Contest.Name + " login", template.HTML(form.String())})
}

// Index renders the participant landing page.
func (r *Renderer) Index(w io.Writer, page IndexPage) error {
	return r.tmpl.ExecuteTemplate(w, "index.html", struct {
		IndexPage
		Title string
	}{page, page.Contest.Name})
}
