package notifications

import (
	"bytes"
	"fmt"
	"text/template"
)

type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

var defaultTemplates = map[string]Template{
	TypeOffline: {
		Subject: `Device {{ name . }} is offline`,
		Body:    `Device {{ .SerialNumber }}{{ with .PlantID }} in plant {{ . }}{{ end }} reported status "{{ .Status }}" at {{ .ObservedAt.Format "2006-01-02 15:04:05 MST" }}.`,
	},
	TypeRecovered: {
		Subject: `Device {{ name . }} is back online`,
		Body:    `Device {{ .SerialNumber }}{{ with .PlantID }} in plant {{ . }}{{ end }} reported status "{{ .Status }}" at {{ .ObservedAt.Format "2006-01-02 15:04:05 MST" }}.`,
	},
}

var fallbackTemplate = Template{
	Subject: `Device {{ name . }}`,
	Body:    `Device {{ .SerialNumber }} reported status "{{ .Status }}".`,
}

var funcs = template.FuncMap{
	"name": func(t Target) string {
		if t.Alias != "" && t.Alias != t.SerialNumber {
			return fmt.Sprintf("%s (%s)", t.Alias, t.SerialNumber)
		}
		return t.SerialNumber
	},
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

type templates struct {
	byType   map[string]compiled
	fallback compiled
}

func newTemplates(overrides map[string]Template) (*templates, error) {
	t := &templates{byType: map[string]compiled{}}

	all := map[string]Template{}
	for k, v := range defaultTemplates {
		all[k] = v
	}
	for k, v := range overrides {
		all[k] = v
	}

	for notificationType, tmpl := range all {
		c, err := compile(notificationType, tmpl)
		if err != nil {
			return nil, err
		}
		t.byType[notificationType] = c
	}

	var err error
	t.fallback, err = compile("fallback", fallbackTemplate)

	return t, err
}

func compile(name string, tmpl Template) (compiled, error) {
	subject, err := template.New(name + "_subject").Funcs(funcs).Parse(tmpl.Subject)
	if err != nil {
		return compiled{}, fmt.Errorf("failed to parse subject template for %s: %w", name, err)
	}

	body, err := template.New(name + "_body").Funcs(funcs).Parse(tmpl.Body)
	if err != nil {
		return compiled{}, fmt.Errorf("failed to parse body template for %s: %w", name, err)
	}

	return compiled{subject: subject, body: body}, nil
}

func (t *templates) render(notificationType string, target Target) (Message, error) {
	c, ok := t.byType[notificationType]
	if !ok {
		c = t.fallback
	}

	subject := &bytes.Buffer{}
	if err := c.subject.Execute(subject, target); err != nil {
		return Message{}, fmt.Errorf("failed to render subject: %w", err)
	}

	body := &bytes.Buffer{}
	if err := c.body.Execute(body, target); err != nil {
		return Message{}, fmt.Errorf("failed to render body: %w", err)
	}

	return Message{
		Type:    notificationType,
		Target:  target,
		Subject: subject.String(),
		Body:    body.String(),
	}, nil
}
