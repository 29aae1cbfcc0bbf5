// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

package authorize

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/oauthkit/oauthkit/pkg/oauth2"
)

// Response mode names.
const (
	ModeQuery    = "query"
	ModeFragment = "fragment"
	ModeFormPost = "form_post"
)

// fragmentSentinel replaces any fragment already present on a redirect
// URI before a response mode applies its own encoding, so a crafted
// fragment can never be confused with issued response data.
const fragmentSentinel = "_=_"

// ResponseMode delivers a flat result set to the client's redirect URI.
type ResponseMode interface {
	// Name returns the response_mode value this strategy handles.
	Name() string

	// Deliver writes the transport-level response carrying params to
	// redirectURI.
	Deliver(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values) error
}

// ModeManager is the response-mode registry.
type ModeManager struct {
	modes  []ResponseMode
	byName map[string]ResponseMode
}

// NewModeManager creates an empty registry.
func NewModeManager() *ModeManager {
	return &ModeManager{byName: make(map[string]ResponseMode)}
}

// Add registers a mode. Later registrations of the same name are
// ignored.
func (m *ModeManager) Add(mode ResponseMode) {
	if _, dup := m.byName[mode.Name()]; dup {
		return
	}
	m.modes = append(m.modes, mode)
	m.byName[mode.Name()] = mode
}

// Has reports whether a mode with the given name is registered.
func (m *ModeManager) Has(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Get returns the mode with the given name, or nil.
func (m *ModeManager) Get(name string) ResponseMode {
	return m.byName[name]
}

// Names returns the registered mode names in registration order.
func (m *ModeManager) Names() []string {
	out := make([]string, 0, len(m.modes))
	for _, mode := range m.modes {
		out = append(out, mode.Name())
	}
	return out
}

// neutralize parses the redirect URI and forces any pre-existing
// fragment to the sentinel.
func neutralize(redirectURI string) (*url.URL, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, oauth2.ErrInvalidRedirectURI.WithCause(err)
	}
	if u.Fragment != "" {
		u.Fragment = fragmentSentinel
	}
	return u, nil
}

// QueryMode merges the result set into the redirect URI's query string
// and issues a 303 redirect. Result data never reaches the fragment.
type QueryMode struct{}

// Name implements ResponseMode.
func (QueryMode) Name() string { return ModeQuery }

// Deliver implements ResponseMode.
func (QueryMode) Deliver(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values) error {
	u, err := neutralize(redirectURI)
	if err != nil {
		return err
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
	return nil
}

// FragmentMode encodes the result set into the URI fragment and issues
// a 303 redirect. Result data never reaches the query string.
type FragmentMode struct{}

// Name implements ResponseMode.
func (FragmentMode) Name() string { return ModeFragment }

// Deliver implements ResponseMode.
func (FragmentMode) Deliver(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values) error {
	u, err := neutralize(redirectURI)
	if err != nil {
		return err
	}
	u.Fragment = ""
	u.RawFragment = ""
	http.Redirect(w, r, u.String()+"#"+params.Encode(), http.StatusSeeOther)
	return nil
}

// formPostPage is the auto-submitting document of the form_post response
// mode (OAuth 2.0 Form Post Response Mode, Section 2).
var formPostPage = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><title>Submit This Form</title></head>
<body onload="javascript:document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{- range $name, $values := .Params}}{{range $values}}
<input type="hidden" name="{{$name}}" value="{{.}}"/>
{{- end}}{{end}}
</form>
</body>
</html>
`))

// FormPostMode renders a minimal self-submitting HTML form posting the
// result set to the redirect URI.
type FormPostMode struct{}

// Name implements ResponseMode.
func (FormPostMode) Name() string { return ModeFormPost }

// Deliver implements ResponseMode.
func (FormPostMode) Deliver(w http.ResponseWriter, _ *http.Request, redirectURI string, params url.Values) error {
	u, err := neutralize(redirectURI)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	data := struct {
		Action string
		Params url.Values
	}{Action: u.String(), Params: params}
	if err := formPostPage.Execute(w, data); err != nil {
		return fmt.Errorf("authorize: render form_post: %w", err)
	}
	return nil
}
