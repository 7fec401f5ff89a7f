// Package templates holds the HTML fragments the server returns to HTMX
// clients.
package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/JonMunkholm/csvedit/internal/core"
	"github.com/a-h/templ"
)

// ErrorAlert renders a dismissible error banner.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert"><p class="alert-message">%s</p>`,
			templ.EscapeString(message))
		if err != nil {
			return err
		}
		if action != "" {
			if _, err := fmt.Fprintf(w, `<p class="alert-action">%s</p>`, templ.EscapeString(action)); err != nil {
				return err
			}
		}
		if code != "" {
			if _, err := fmt.Fprintf(w, `<p class="alert-code">Code: %s</p>`, templ.EscapeString(code)); err != nil {
				return err
			}
		}
		_, err = io.WriteString(w, `</div>`)
		return err
	})
}

// ParseErrorList renders the malformed records of a rejected load.
func ParseErrorList(errs []*core.ParseError) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if len(errs) == 0 {
			return nil
		}
		if _, err := io.WriteString(w, `<ul class="parse-errors">`); err != nil {
			return err
		}
		for _, pe := range errs {
			_, err := fmt.Fprintf(w, `<li data-row="%d">Row %d (line %d, column %d): %s</li>`,
				pe.Row, pe.Row, pe.Line, pe.Column, templ.EscapeString(pe.Message))
			if err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ul>`)
		return err
	})
}
