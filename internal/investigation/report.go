package investigation

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/mohammad-safakhou/autospook/internal/gateway"
	"github.com/mohammad-safakhou/autospook/internal/helpers"
	"github.com/mohammad-safakhou/autospook/internal/osint"
	"github.com/mohammad-safakhou/autospook/internal/search"
)

// evidenceByTopic keeps topic order and includes only the supporting evidence of
// CLOSED questions. Topics without any are omitted.
func evidenceByTopic(topics []*Topic) []gateway.TopicEvidence {
	var sections []gateway.TopicEvidence
	for _, t := range topics {
		seen := map[string]bool{}
		var evidence []search.Snippet
		for _, q := range t.Questions {
			if q.Status != osint.QuestionClosed {
				continue
			}
			for _, s := range q.Supporting {
				key := s.ID
				if key == "" {
					key = s.URL
				}
				if seen[key] {
					continue
				}
				seen[key] = true
				evidence = append(evidence, s)
			}
		}
		if len(evidence) > 0 {
			sections = append(sections, gateway.TopicEvidence{Topic: t.Title, Evidence: evidence})
		}
	}
	return sections
}

// collectNotes explains every unresolved question and topic.
func collectNotes(topics []*Topic) []string {
	var notes []string
	for _, t := range topics {
		if t.Status == osint.TopicUnsatisfiable {
			notes = append(notes, fmt.Sprintf("Topic %q unresolved: %s", t.Title, t.Rationale))
		}
		for _, q := range t.Questions {
			if q.Status == osint.QuestionUnanswerable {
				notes = append(notes, fmt.Sprintf("Question %q (%s) unanswered: %s", q.Text, q.Criticality, q.Rationale))
			}
		}
	}
	return notes
}

var fallbackReport = template.Must(template.New("report").Funcs(template.FuncMap{
	"cite": func(s search.Snippet) string {
		return helpers.FormatCitation(helpers.Citation{Title: s.Title, URL: s.URL, Published: s.PublishedDate})
	},
}).Parse(`<section>
<h1>Investigation report: {{.Target}}</h1>
{{if .Context}}<p>{{.Context}}</p>
{{end}}{{range .Topics}}<h2>{{.Title}}</h2>
<p><strong>{{.Status}}</strong>{{if .Rationale}}: {{.Rationale}}{{end}}</p>
{{with .Evidence}}<ul>
{{range .}}<li><a href="{{.URL}}">{{cite .}}</a><br>{{.Text}}</li>
{{end}}</ul>
{{else}}<p>No supporting evidence was established.</p>
{{end}}{{end}}{{with .Notes}}<h2>Limitations</h2>
<ul>
{{range .}}<li>{{.}}</li>
{{end}}</ul>
{{end}}</section>
`))

type fallbackTopic struct {
	Title     string
	Status    osint.TopicStatus
	Rationale string
	Evidence  []search.Snippet
}

// renderFallbackReport builds a report from the collected evidence without the model.
func renderFallbackReport(inv *Investigation, sections []gateway.TopicEvidence) (string, error) {
	byTopic := make(map[string][]search.Snippet, len(sections))
	for _, s := range sections {
		byTopic[s.Topic] = s.Evidence
	}
	data := struct {
		Target  string
		Context string
		Topics  []fallbackTopic
		Notes   []string
	}{Target: inv.Target.Name, Context: inv.ExpandedContext, Notes: inv.Notes}
	for _, t := range inv.Topics {
		data.Topics = append(data.Topics, fallbackTopic{
			Title:     t.Title,
			Status:    t.Status,
			Rationale: t.Rationale,
			Evidence:  byTopic[t.Title],
		})
	}
	var buf bytes.Buffer
	if err := fallbackReport.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
