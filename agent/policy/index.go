package policy

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

//go:embed docs/*.md
var defaultDocs embed.FS

const (
	MetaSource  = "source"
	MetaHeading = "heading"

	maxChunkRunes = 1200
)

// DefaultDocuments returns the policy documents compiled into the binary,
// already split into sections.
func DefaultDocuments() []*schema.Document {
	sub, err := fs.Sub(defaultDocs, "docs")
	if err != nil {
		panic(err)
	}
	docs, err := LoadDocuments(sub)
	if err != nil {
		panic(fmt.Sprintf("embedded policy documents: %v", err))
	}
	return docs
}

// LoadDocuments reads every .md and .txt file at the root of fsys and splits
// markdown files on second-level headings.
func LoadDocuments(fsys fs.FS) ([]*schema.Document, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read policy dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(e.Name())) {
		case ".md", ".txt":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var docs []*schema.Document
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", name, err)
		}
		docs = append(docs, splitDocument(name, string(raw))...)
	}
	return docs, nil
}

func splitDocument(source, content string) []*schema.Document {
	var (
		docs    []*schema.Document
		heading string
		buf     strings.Builder
	)
	flush := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if text == "" {
			return
		}
		for _, part := range capRunes(text, maxChunkRunes) {
			docs = append(docs, &schema.Document{
				ID:      fmt.Sprintf("%s#%d", source, len(docs)),
				Content: part,
				MetaData: map[string]any{
					MetaSource:  source,
					MetaHeading: heading,
				},
			})
		}
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			heading = strings.TrimSpace(strings.TrimPrefix(line, "## "))
		}
		if strings.HasPrefix(line, "# ") {
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	flush()
	return docs
}

func capRunes(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for cut > limit/2 && runes[cut] != '\n' && runes[cut] != ' ' {
			cut--
		}
		parts = append(parts, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}
