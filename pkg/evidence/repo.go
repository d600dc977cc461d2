package evidence

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/incidentops/iats/pkg/hashing"
)

// Snippet is an extracted code window tied to a file and line range.
type Snippet struct {
	SnippetID string `json:"snippet_id"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
	Reason    string `json:"reason"`
	CommitSHA string `json:"commit_sha,omitempty"`
	// high for stack-trace mapped snippets, low for keyword matches
	Confidence string `json:"confidence"`
}

// Commit is one entry of a repository's recent history.
type Commit struct {
	Commit  string `json:"commit"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
}

// SnippetFetcher retrieves code context from the source host.
type SnippetFetcher interface {
	SnippetForFileLine(repoPath, relativePath string, line int, commitSHA string) (*Snippet, error)
	SearchSnippets(repoPath string, keywords []string, limit int) ([]*Snippet, error)
	RecentCommits(repoPath string, limit int) ([]Commit, error)
}

// GitSnippetFetcher reads local repository checkouts, using grep for keyword
// search and git for commit-pinned retrieval.
type GitSnippetFetcher struct{}

// NewGitSnippetFetcher returns the local-checkout snippet fetcher.
func NewGitSnippetFetcher() *GitSnippetFetcher {
	return &GitSnippetFetcher{}
}

const snippetContext = 10

// SnippetForFileLine returns ±10 lines around line in the named file. When
// commitSHA is set the content comes from that revision via git show; the
// file is located by basename match anywhere in the tree.
func (f *GitSnippetFetcher) SnippetForFileLine(repoPath, relativePath string, line int, commitSHA string) (*Snippet, error) {
	if repoPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(repoPath); err != nil {
		return nil, nil
	}

	resolved := f.resolvePath(repoPath, relativePath)
	if resolved == "" {
		return nil, nil
	}

	var content string
	if commitSHA != "" {
		out, err := exec.Command("git", "-C", repoPath, "show", commitSHA+":"+resolved).Output()
		if err != nil || len(out) == 0 {
			return nil, nil
		}
		content = window(strings.Split(string(out), "\n"), line)
	} else {
		data, err := os.ReadFile(filepath.Join(repoPath, resolved))
		if err != nil {
			return nil, nil
		}
		content = window(strings.Split(string(data), "\n"), line)
	}
	if content == "" {
		return nil, nil
	}

	rev := commitSHA
	if rev == "" {
		rev = "HEAD"
	}
	id, err := hashing.StableHash(fmt.Sprintf("%s:%d:%s", resolved, line, rev))
	if err != nil {
		return nil, err
	}
	return &Snippet{
		SnippetID:  id[:12],
		FilePath:   resolved,
		StartLine:  max(1, line-snippetContext),
		EndLine:    line + snippetContext,
		Content:    content,
		Reason:     "stack-trace mapping",
		CommitSHA:  commitSHA,
		Confidence: "high",
	}, nil
}

// resolvePath finds relativePath under the repo, matching by basename when
// the stack frame carries an absolute or container-local path.
func (f *GitSnippetFetcher) resolvePath(repoPath, relativePath string) string {
	base := filepath.Base(relativePath)
	if _, err := os.Stat(filepath.Join(repoPath, relativePath)); err == nil {
		return relativePath
	}
	var found string
	_ = filepath.WalkDir(repoPath, func(path string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == base {
			rel, relErr := filepath.Rel(repoPath, path)
			if relErr == nil {
				found = rel
			}
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// SearchSnippets greps the working tree for each keyword, taking at most two
// hits per keyword until limit snippets are collected.
func (f *GitSnippetFetcher) SearchSnippets(repoPath string, keywords []string, limit int) ([]*Snippet, error) {
	if repoPath == "" || len(keywords) == 0 {
		return nil, nil
	}
	if _, err := os.Stat(repoPath); err != nil {
		return nil, nil
	}

	var snippets []*Snippet
	for _, keyword := range keywords {
		if len(snippets) >= limit {
			break
		}
		out, err := exec.Command("grep", "-RIn", "--exclude-dir=.git", keyword, repoPath).Output()
		if err != nil {
			// grep exits 1 on no matches
			continue
		}
		lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
		for i, hit := range lines {
			if i >= 2 || len(snippets) >= limit {
				break
			}
			parts := strings.SplitN(hit, ":", 3)
			if len(parts) < 3 {
				continue
			}
			lineNo, err := strconv.Atoi(parts[1])
			if err != nil {
				continue
			}
			data, err := os.ReadFile(parts[0])
			if err != nil {
				continue
			}
			rel, relErr := filepath.Rel(repoPath, parts[0])
			if relErr != nil {
				rel = parts[0]
			}
			id, err := hashing.StableHash(fmt.Sprintf("%s:%d:%s", parts[0], lineNo, keyword))
			if err != nil {
				return nil, err
			}
			snippets = append(snippets, &Snippet{
				SnippetID:  id[:12],
				FilePath:   rel,
				StartLine:  max(1, lineNo-snippetContext),
				EndLine:    lineNo + snippetContext,
				Content:    window(strings.Split(string(data), "\n"), lineNo),
				Reason:     "keyword match: " + keyword,
				Confidence: "low",
			})
		}
	}
	return snippets, nil
}

// RecentCommits returns up to limit commits from the repo's current branch.
func (f *GitSnippetFetcher) RecentCommits(repoPath string, limit int) ([]Commit, error) {
	if repoPath == "" {
		return nil, nil
	}
	if _, err := os.Stat(repoPath); err != nil {
		return nil, nil
	}
	if limit < 1 {
		limit = 1
	}
	out, err := exec.Command("git", "-C", repoPath, "log", fmt.Sprintf("-n%d", limit),
		"--pretty=format:%H|%an|%ad|%s", "--date=iso").Output()
	if err != nil {
		return nil, nil
	}

	var commits []Commit
	for _, line := range strings.Split(string(out), "\n") {
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, Commit{Commit: parts[0], Author: parts[1], Date: parts[2], Subject: parts[3]})
	}
	return commits, nil
}

// window returns ±snippetContext lines around lineNo (1-based).
func window(lines []string, lineNo int) string {
	start := max(0, lineNo-snippetContext-1)
	end := min(len(lines), lineNo+snippetContext)
	if start >= end {
		return ""
	}
	return strings.Join(lines[start:end], "\n")
}
