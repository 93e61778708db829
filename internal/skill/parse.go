package skill

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FrontMatter is the author-supplied metadata block at the top of a
// skill file, delimited by "---" lines.
type FrontMatter struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Version       string   `yaml:"version"`
	Author        string   `yaml:"author"`
	Tags          []string `yaml:"tags"`
	Compatibility string   `yaml:"compatibility"`
}

// Parsed is the result of splitting a skill file into metadata and
// instructional body.
type Parsed struct {
	Meta FrontMatter
	Body string
}

// Parse splits a skill file into its YAML front matter and markdown
// body. The front matter must be the first thing in the file.
func Parse(content []byte) (*Parsed, error) {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(text, "---\n") && text != "---" {
		return nil, fmt.Errorf("missing front matter")
	}

	rest := strings.TrimPrefix(text, "---\n")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("unterminated front matter")
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	if i := strings.Index(body, "\n"); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}

	var meta FrontMatter
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return nil, fmt.Errorf("parsing front matter: %w", err)
	}

	meta.Name = strings.TrimSpace(meta.Name)
	meta.Description = strings.TrimSpace(meta.Description)
	meta.Version = strings.TrimSpace(meta.Version)
	meta.Author = strings.TrimSpace(meta.Author)

	return &Parsed{Meta: meta, Body: body}, nil
}

// Build assembles a manifest from parsed file content and its location.
// The result is NOT yet validated; callers run Validate before keeping it.
func Build(p *Parsed, repo RepoRef, path string, files []string, source Source) *Manifest {
	id := repo.FullName()
	if path != "" {
		id += "/" + path
	}

	author := p.Meta.Author
	if author == "" {
		author = repo.Owner
	}

	return &Manifest{
		ID:            id,
		Name:          p.Meta.Name,
		Description:   p.Meta.Description,
		Category:      Categorize(p.Meta.Name, p.Meta.Description, p.Body),
		Author:        author,
		Source:        source,
		Repo:          repo,
		Path:          path,
		Files:         files,
		Version:       p.Meta.Version,
		Tags:          p.Meta.Tags,
		Compatibility: p.Meta.Compatibility,
	}
}
