package stage

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"social-post-orchestrator/internal/models"
)

// Collector gathers the day's raw evidence: git commit subjects, the devlog
// tail, and note files. Source failures become material warnings, not run
// failures; an empty material set is a legitimate (if thin) day.
type Collector struct {
	RepoPath   string
	DevlogPath string
	NotesDir   string
	Window     time.Duration
}

func (c *Collector) Name() string { return "collector" }

func (c *Collector) Run(ctx context.Context, p *Pipeline) error {
	var m models.Materials

	commits, err := c.gitCommits(ctx)
	if err != nil {
		m.Errors = append(m.Errors, fmt.Sprintf("git: %v", err))
	}
	m.GitCommits = commits

	if devlog, err := c.devlogTail(); err != nil {
		m.Errors = append(m.Errors, fmt.Sprintf("devlog: %v", err))
	} else if devlog != nil {
		m.Devlog = devlog
	}

	notes, err := c.notes()
	if err != nil {
		m.Errors = append(m.Errors, fmt.Sprintf("notes: %v", err))
	}
	m.Notes = notes

	for _, e := range m.Errors {
		p.Warnf("collector: %s", e)
	}
	p.Materials = m
	return nil
}

func (c *Collector) gitCommits(ctx context.Context) ([]models.EvidenceItem, error) {
	if c.RepoPath == "" {
		return nil, nil
	}
	window := c.Window
	if window == 0 {
		window = 24 * time.Hour
	}
	since := time.Now().UTC().Add(-window).Format(time.RFC3339)
	cmd := exec.CommandContext(ctx, "git", "-C", c.RepoPath, "log", "--since", since, "--pretty=format:%H%x1f%s%x1f%cI")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var items []models.EvidenceItem
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), "\x1f", 3)
		if len(parts) != 3 {
			continue
		}
		ts, _ := time.Parse(time.RFC3339, parts[2])
		items = append(items, models.EvidenceItem{
			SourceName: "git",
			SourceID:   parts[0],
			Timestamp:  ts,
			RawSnippet: parts[1],
		})
		if len(items) >= 50 {
			break
		}
	}
	return items, sc.Err()
}

func (c *Collector) devlogTail() (*models.EvidenceItem, error) {
	if c.DevlogPath == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(c.DevlogPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	const tail = 2000
	text := string(raw)
	if len(text) > tail {
		text = text[len(text)-tail:]
	}
	return &models.EvidenceItem{
		SourceName: "devlog",
		SourceID:   c.DevlogPath,
		Timestamp:  time.Now().UTC(),
		RawSnippet: text,
	}, nil
}

func (c *Collector) notes() ([]models.EvidenceItem, error) {
	if c.NotesDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(c.NotesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []models.EvidenceItem
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(c.NotesDir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		snippet := strings.TrimSpace(string(raw))
		if snippet == "" {
			continue
		}
		if len(snippet) > 1000 {
			snippet = snippet[:1000]
		}
		info, _ := e.Info()
		ts := time.Now().UTC()
		if info != nil {
			ts = info.ModTime().UTC()
		}
		items = append(items, models.EvidenceItem{
			SourceName: "note",
			SourceID:   e.Name(),
			Timestamp:  ts,
			RawSnippet: snippet,
		})
		if len(items) >= 20 {
			break
		}
	}
	return items, nil
}
