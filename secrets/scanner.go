package secrets

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// minLiteralLen — минимальная длина значения из конфигурации, которое ищется буквально.
const minLiteralLen = 6

var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password\s*[:=]\s*["'][^"']{6,}["']`),
	regexp.MustCompile(`(?i)client_secret\s*[:=]\s*["'][^"']{10,}["']`),
	regexp.MustCompile(`(?i)oauth_password\s*[:=]\s*["'][^"']+["']`),
	regexp.MustCompile(`-----BEGIN\s+(RSA\s+|EC\s+)?PRIVATE KEY-----`),
}

// DefaultExtensions — расширения файлов, которые проверяются.
var DefaultExtensions = []string{".py", ".js", ".html", ".json", ".yaml", ".yml", ".go", ".env"}

// Finding — одно подозрительное совпадение.
type Finding struct {
	File  string
	Line  int
	Match string
}

// Scanner проверяет содержимое файлов по набору шаблонов.
type Scanner struct {
	patterns   []*regexp.Regexp
	extensions map[string]bool
}

// NewScanner создаёт сканер со стандартными шаблонами и буквальными
// значениями секретов.
func NewScanner(literals ...string) *Scanner {
	patterns := append([]*regexp.Regexp(nil), defaultPatterns...)
	for _, literal := range literals {
		if len(literal) < minLiteralLen {
			continue
		}
		patterns = append(patterns, regexp.MustCompile(regexp.QuoteMeta(literal)))
	}

	extensions := make(map[string]bool, len(DefaultExtensions))
	for _, ext := range DefaultExtensions {
		extensions[ext] = true
	}

	return &Scanner{patterns: patterns, extensions: extensions}
}

// Applies сообщает, проверяется ли файл с таким именем.
func (s *Scanner) Applies(name string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(name))]
}

// ScanContent ищет совпадения в content; пересекающиеся совпадения
// разных шаблонов сообщаются один раз.
func (s *Scanner) ScanContent(name, content string) []Finding {
	var (
		findings []Finding
		seen     [][2]int
	)

	for _, pattern := range s.patterns {
		for _, loc := range pattern.FindAllStringIndex(content, -1) {
			if overlaps(seen, loc) {
				continue
			}
			seen = append(seen, [2]int{loc[0], loc[1]})
			findings = append(findings, Finding{
				File:  name,
				Line:  strings.Count(content[:loc[0]], "\n") + 1,
				Match: content[loc[0]:loc[1]],
			})
		}
	}

	return findings
}

// ScanFile читает файл и проверяет его, если расширение подходит.
func (s *Scanner) ScanFile(path string) ([]Finding, error) {
	if !s.Applies(path) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return s.ScanContent(path, string(data)), nil
}

// StagedFiles возвращает добавленные и изменённые файлы из индекса git.
func StagedFiles(ctx context.Context, dir string) ([]string, error) {
	// -z отключает экранирование путей с пробелами и не-ASCII символами
	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--name-only", "-z", "--diff-filter=ACMR")
	cmd.Dir = dir

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff --cached: %w", err)
	}

	var files []string
	for _, name := range strings.Split(string(out), "\x00") {
		if name != "" {
			files = append(files, name)
		}
	}
	return files, nil
}

// Redact оставляет от совпадения первые 4 символа.
func Redact(match string) string {
	runes := []rune(match)
	if len(runes) <= 4 {
		return "****"
	}
	return string(runes[:4]) + "****"
}

func overlaps(seen [][2]int, loc []int) bool {
	for _, r := range seen {
		if loc[0] < r[1] && r[0] < loc[1] {
			return true
		}
	}
	return false
}
