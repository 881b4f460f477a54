// Package render implements the Oracle's audience-specific output shaping
// (spec.md §4.10 step 5): plain Markdown for developer/manager, a
// structured XML envelope for ai, a short prose report for stakeholder.
package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"text/template"

	"github.com/vidurai/vidurai-core/internal/store/model"
)

// Audience is the consumer surface the Oracle is rendering for.
type Audience string

const (
	AudienceDeveloper  Audience = "developer"
	AudienceAI         Audience = "ai"
	AudienceManager    Audience = "manager"
	AudienceProduct    Audience = "product"
	AudienceStakeholder Audience = "stakeholder"
)

var developerTemplate = template.Must(template.New("developer").Parse(
	`# Context

{{range .}}- **[{{.Salience}}]** {{.Gist}}{{if .FilePath}} ({{.FilePath}}{{if .LineNumber}}:{{.LineNumber}}{{end}}){{end}}
{{end}}`))

var managerTemplate = template.Must(template.New("manager").Parse(
	`# Summary

{{range .}}- {{.Gist}}
{{end}}`))

// Render produces the rendered body for one audience over a packed, ordered
// set of memories. The caller has already applied noise filtering,
// priority ordering and token packing (spec.md §4.10 steps 2-4).
func Render(audience Audience, memories []model.Memory) (string, error) {
	switch audience {
	case AudienceDeveloper:
		return renderTemplate(developerTemplate, memories)
	case AudienceManager, AudienceProduct:
		return renderTemplate(managerTemplate, memories)
	case AudienceAI:
		return renderXML(memories)
	case AudienceStakeholder:
		return renderProse(memories), nil
	default:
		return renderTemplate(developerTemplate, memories)
	}
}

func renderTemplate(tmpl *template.Template, memories []model.Memory) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, memories); err != nil {
		return "", fmt.Errorf("render: executing template: %w", err)
	}

	return buf.String(), nil
}

// aiEnvelope is the XML shape for the ai audience, which keeps full
// diagnostic detail (spec.md §4.10 step 2: "the ai profile keeps it").
type aiEnvelope struct {
	XMLName xml.Name  `xml:"context"`
	Items   []aiItem  `xml:"memory"`
}

type aiItem struct {
	ID        int64  `xml:"id,attr"`
	Salience  string `xml:"salience,attr"`
	EventType string `xml:"event_type,attr"`
	FilePath  string `xml:"file_path,attr,omitempty"`
	Gist      string `xml:"gist"`
	Verbatim  string `xml:"verbatim"`
}

func renderXML(memories []model.Memory) (string, error) {
	env := aiEnvelope{Items: make([]aiItem, 0, len(memories))}

	for _, m := range memories {
		env.Items = append(env.Items, aiItem{
			ID: m.ID, Salience: string(m.Salience), EventType: m.EventType,
			FilePath: m.FilePath, Gist: m.Gist, Verbatim: m.Verbatim,
		})
	}

	out, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render: marshaling xml: %w", err)
	}

	return xml.Header + string(out), nil
}

func renderProse(memories []model.Memory) string {
	if len(memories) == 0 {
		return "No notable activity to report."
	}

	var b strings.Builder

	b.WriteString("Recent activity: ")

	parts := make([]string, 0, len(memories))
	for _, m := range memories {
		parts = append(parts, m.Gist)
	}

	b.WriteString(strings.Join(parts, "; "))
	b.WriteString(".")

	return b.String()
}
