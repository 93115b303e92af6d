package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	sgerrors "github.com/scanguard/scanguard/pkg/errors"
	"github.com/scanguard/scanguard/pkg/types"
)

// Registry holds the available analyzers by name.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]types.Analyzer
}

// NewRegistry creates a registry preloaded with the built-in analyzers.
func NewRegistry() *Registry {
	r := &Registry{analyzers: make(map[string]types.Analyzer)}
	r.Register(NewSecurityAnalyzer())
	r.Register(NewPerformanceAnalyzer())
	r.Register(NewDuplicateAnalyzer())
	return r
}

// Register adds an analyzer, replacing any existing one with the same
// name.
func (r *Registry) Register(a types.Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzers[a.Name()] = a
}

// Get returns the named analyzer.
func (r *Registry) Get(name string) (types.Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[name]
	return a, ok
}

// Select resolves names to analyzers, erroring on unknown names.
func (r *Registry) Select(names []string) ([]types.Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Analyzer, 0, len(names))
	for _, name := range names {
		a, ok := r.analyzers[name]
		if !ok {
			return nil, sgerrors.NewError(sgerrors.ErrCodeInvalidConfig,
				fmt.Sprintf("unknown analyzer %q", name))
		}
		out = append(out, a)
	}
	return out, nil
}

// Names lists the registered analyzer names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.analyzers))
	for name := range r.analyzers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// findingID derives a stable finding identifier from its coordinates.
func findingID(analyzer, rule, path string, line int) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(
		fmt.Sprintf("%s:%s:%s:%d", analyzer, rule, path, line)))
}

// patternRule is one regex-driven detection rule.
type patternRule struct {
	name        string
	pattern     *regexp.Regexp
	severity    types.Severity
	message     string
	description string
	suggestion  string
}

// SecurityAnalyzer flags likely credential leaks and dangerous
// constructs with line-oriented pattern rules.
type SecurityAnalyzer struct {
	rules []patternRule
}

// NewSecurityAnalyzer builds the security analyzer with its default
// rule set.
func NewSecurityAnalyzer() *SecurityAnalyzer {
	return &SecurityAnalyzer{
		rules: []patternRule{
			{
				name:        "hardcoded_secret",
				pattern:     regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|auth[_-]?token)\s*[:=]\s*["'][^"']{4,}["']`),
				severity:    types.SeverityCritical,
				message:     "possible hardcoded credential",
				description: "A credential-looking literal is assigned to a sensitive variable name",
				suggestion:  "Load secrets from the environment or a secret manager",
			},
			{
				name:        "aws_access_key",
				pattern:     regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
				severity:    types.SeverityCritical,
				message:     "AWS access key ID in source",
				description: "The literal matches the AWS access key ID format",
				suggestion:  "Revoke the key and move it out of the repository",
			},
			{
				name:        "private_key",
				pattern:     regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
				severity:    types.SeverityCritical,
				message:     "private key material in source",
				description: "A PEM private key header appears in the file",
				suggestion:  "Remove the key and rotate it",
			},
			{
				name:        "insecure_url",
				pattern:     regexp.MustCompile(`http://[a-zA-Z0-9.-]+\.[a-z]{2,}`),
				severity:    types.SeverityMedium,
				message:     "plaintext http URL",
				description: "Traffic to this endpoint is unencrypted",
				suggestion:  "Use https where the endpoint supports it",
			},
			{
				name:        "weak_hash",
				pattern:     regexp.MustCompile(`\b(md5|sha1)\s*\(`),
				severity:    types.SeverityHigh,
				message:     "weak hash function",
				description: "MD5 and SHA-1 are broken for integrity and signatures",
				suggestion:  "Use SHA-256 or a keyed hash",
			},
		},
	}
}

func (a *SecurityAnalyzer) Name() string { return "security" }

func (a *SecurityAnalyzer) Analyze(ctx context.Context, path string, content []byte) ([]types.Finding, error) {
	return scanLines(ctx, a.Name(), path, content, a.rules)
}

// PerformanceAnalyzer flags constructs that are expensive when they
// appear inside loops.
type PerformanceAnalyzer struct {
	inLoop []patternRule
}

// NewPerformanceAnalyzer builds the performance analyzer with its
// default rule set.
func NewPerformanceAnalyzer() *PerformanceAnalyzer {
	return &PerformanceAnalyzer{
		inLoop: []patternRule{
			{
				name:        "sleep_in_loop",
				pattern:     regexp.MustCompile(`\b(time\.Sleep|sleep|usleep)\s*\(`),
				severity:    types.SeverityMedium,
				message:     "sleep inside a loop",
				description: "Polling with sleeps burns latency; the loop stalls every iteration",
				suggestion:  "Use a ticker, channel, or condition variable instead of polling",
			},
			{
				name:        "regex_compile_in_loop",
				pattern:     regexp.MustCompile(`\b(regexp\.(Must)?Compile|re\.compile|Pattern\.compile)\s*\(`),
				severity:    types.SeverityMedium,
				message:     "regex compiled inside a loop",
				description: "The pattern is recompiled every iteration",
				suggestion:  "Hoist the compilation out of the loop",
			},
			{
				name:        "string_concat_in_loop",
				pattern:     regexp.MustCompile(`\w+\s*\+=\s*["']|\w+\s*=\s*\w+\s*\+\s*["']`),
				severity:    types.SeverityLow,
				message:     "string concatenation inside a loop",
				description: "Repeated concatenation reallocates the whole string each pass",
				suggestion:  "Accumulate into a builder or buffer",
			},
		},
	}
}

func (a *PerformanceAnalyzer) Name() string { return "performance" }

// loopOpener matches the start of a loop in the common C-family and
// scripting syntaxes the scanner sees.
var loopOpener = regexp.MustCompile(`^\s*(for|while)\b`)

func (a *PerformanceAnalyzer) Analyze(ctx context.Context, path string, content []byte) ([]types.Finding, error) {
	var findings []types.Finding

	depth := 0
	lineNo := 0
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, sgerrors.Wrap(err, sgerrors.ErrCodeOperationCanceled, "analysis canceled")
		}

		lineNo++
		line := scanner.Text()

		if loopOpener.MatchString(line) {
			depth++
		}

		if depth > 0 {
			for _, rule := range a.inLoop {
				if loc := rule.pattern.FindStringIndex(line); loc != nil {
					findings = append(findings, newFinding(a.Name(), rule, path, lineNo, loc[0]+1))
				}
			}
		}

		// Brace tracking is deliberately approximate: a closing brace
		// at the start of a line ends the innermost loop.
		if depth > 0 && strings.HasPrefix(strings.TrimSpace(line), "}") {
			depth--
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeAnalyzerFailed, "line scan failed")
	}

	return findings, nil
}

// DuplicateAnalyzer finds repeated code blocks within a file by hashing
// sliding windows of normalized lines.
type DuplicateAnalyzer struct {
	windowSize int
}

// NewDuplicateAnalyzer builds the duplicate analyzer with the default
// window of 6 lines.
func NewDuplicateAnalyzer() *DuplicateAnalyzer {
	return &DuplicateAnalyzer{windowSize: 6}
}

func (a *DuplicateAnalyzer) Name() string { return "duplicates" }

func (a *DuplicateAnalyzer) Analyze(ctx context.Context, path string, content []byte) ([]types.Finding, error) {
	lines := normalizedLines(content)
	if len(lines) < a.windowSize*2 {
		return nil, nil
	}

	seen := make(map[uint64]int) // window hash -> first line
	var findings []types.Finding

	for i := 0; i+a.windowSize <= len(lines); i++ {
		if err := ctx.Err(); err != nil {
			return nil, sgerrors.Wrap(err, sgerrors.ErrCodeOperationCanceled, "analysis canceled")
		}

		window := strings.Join(lines[i:i+a.windowSize], "\n")
		if strings.TrimSpace(window) == "" {
			continue
		}

		h := xxhash.Sum64String(window)
		if first, dup := seen[h]; dup {
			// Report the repeat, not the original; skip overlapping
			// repeats of the same window.
			if first+a.windowSize <= i {
				findings = append(findings, types.Finding{
					ID:          findingID(a.Name(), "duplicate_block", path, i+1),
					Analyzer:    a.Name(),
					Rule:        "duplicate_block",
					Severity:    types.SeverityLow,
					File:        path,
					Line:        i + 1,
					Message:     fmt.Sprintf("duplicated block, first seen at line %d", first+1),
					Description: fmt.Sprintf("%d consecutive lines repeat an earlier block", a.windowSize),
					Suggestion:  "Extract the repeated block into a function",
					Category:    a.Name(),
					Metadata: map[string]string{
						"first_line": fmt.Sprintf("%d", first+1),
					},
				})
				i += a.windowSize - 1
			}
			continue
		}
		seen[h] = i
	}

	return findings, nil
}

// normalizedLines strips whitespace so formatting differences do not
// hide duplicates.
func normalizedLines(content []byte) []string {
	raw := strings.Split(string(content), "\n")
	out := make([]string, len(raw))
	for i, line := range raw {
		out[i] = strings.Join(strings.Fields(line), " ")
	}
	return out
}

// scanLines applies pattern rules line by line.
func scanLines(ctx context.Context, analyzer, path string, content []byte, rules []patternRule) ([]types.Finding, error) {
	var findings []types.Finding

	lineNo := 0
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, sgerrors.Wrap(err, sgerrors.ErrCodeOperationCanceled, "analysis canceled")
		}

		lineNo++
		line := scanner.Text()
		for _, rule := range rules {
			if loc := rule.pattern.FindStringIndex(line); loc != nil {
				findings = append(findings, newFinding(analyzer, rule, path, lineNo, loc[0]+1))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.ErrCodeAnalyzerFailed, "line scan failed")
	}

	return findings, nil
}

func newFinding(analyzer string, rule patternRule, path string, line, column int) types.Finding {
	return types.Finding{
		ID:          findingID(analyzer, rule.name, path, line),
		Analyzer:    analyzer,
		Rule:        rule.name,
		Severity:    rule.severity,
		File:        path,
		Line:        line,
		Column:      column,
		Message:     rule.message,
		Description: rule.description,
		Suggestion:  rule.suggestion,
		Category:    analyzer,
	}
}
