package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/demoproc/internal/ledger"
)

// zeroLine marks a template line reporting a zero count; such lines are left
// out of the communication.
const zeroLine = "- 0 "

// Communication is a filled operator communication.
type Communication struct {
	Text     string
	HTML     string
	TextPath string
	HTMLPath string
}

// Fill substitutes "[demo type]" and every "[metric]" placeholder in tmpl
// with values from entry, then removes the lines that report a zero count.
func Fill(tmpl, demoType string, entry ledger.Entry) string {
	out := strings.ReplaceAll(tmpl, "[demo type]", demoType)
	for _, m := range ledger.Schema() {
		v, ok := entry[m.Name]
		if !ok {
			v = m.Default
		}
		out = strings.ReplaceAll(out, "["+m.Name+"]", v.String())
	}

	lines := strings.SplitAfter(out, "\n")
	var b strings.Builder
	for _, line := range lines {
		if strings.Contains(line, zeroLine) {
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

// RenderHTML converts the communication text to HTML.
func RenderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("rendering communication: %w", err)
	}
	return buf.String(), nil
}

// Composer writes the operator communication for an event from a template
// and the event's ledger entry.
type Composer struct {
	ledger   ledger.Store
	template string
	output   string
	log      *zap.Logger
}

// NewComposer creates a composer reading templatePath and writing to
// outputPath. The HTML rendering goes next to it with an .html extension.
func NewComposer(store ledger.Store, templatePath, outputPath string, log *zap.Logger) *Composer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{ledger: store, template: templatePath, output: outputPath, log: log}
}

// Compose fills the template for the event and writes both renderings.
func (c *Composer) Compose(key, demoType string) (*Communication, error) {
	tmpl, err := os.ReadFile(c.template)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	entry, err := c.ledger.GetAll(key)
	if err != nil {
		return nil, err
	}

	comm := &Communication{Text: Fill(string(tmpl), demoType, entry)}
	comm.HTML, err = RenderHTML(comm.Text)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(c.output), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	comm.TextPath = c.output
	comm.HTMLPath = strings.TrimSuffix(c.output, filepath.Ext(c.output)) + ".html"
	if err := os.WriteFile(comm.TextPath, []byte(comm.Text), 0o644); err != nil {
		return nil, fmt.Errorf("writing communication: %w", err)
	}
	if err := os.WriteFile(comm.HTMLPath, []byte(comm.HTML), 0o644); err != nil {
		return nil, fmt.Errorf("writing communication: %w", err)
	}

	c.log.Info("communication written", zap.String("event", key), zap.String("path", comm.TextPath))
	return comm, nil
}
