// Command report_gen merges `go test -json` output with the annotations in
// test doc comments and writes JSON and Markdown reports.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const modulePath = "github.com/saltstack/jema"

// Annotations are the tagged lines of a test's doc comment
type Annotations struct {
	Purpose     string `json:"purpose,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Security    string `json:"security,omitempty"`
	Permissions string `json:"permissions,omitempty"`
	Expected    string `json:"expected,omitempty"`
	TestCaseID  string `json:"test_case_id,omitempty"`
	Category    string `json:"category"`
}

var annotationTags = []struct {
	prefix string
	field  func(*Annotations) *string
}{
	{"TestPurpose:", func(a *Annotations) *string { return &a.Purpose }},
	{"Scope:", func(a *Annotations) *string { return &a.Scope }},
	{"Security:", func(a *Annotations) *string { return &a.Security }},
	{"Permissions:", func(a *Annotations) *string { return &a.Permissions }},
	{"Expected:", func(a *Annotations) *string { return &a.Expected }},
	{"Test Case ID:", func(a *Annotations) *string { return &a.TestCaseID }},
}

// categories maps a package directory to its report section
var categories = []struct {
	dir  string
	name string
}{
	{"internal/authz", "Identity & Permissions"},
	{"internal/rbac", "Identity & Permissions"},
	{"internal/identity", "Accounts"},
	{"internal/githubauth", "GitHub Sign-in"},
	{"internal/session", "Sessions"},
	{"internal/token", "API Tokens"},
	{"internal/buildserver", "Build Servers"},
	{"internal/store", "Storage"},
	{"internal/transport/http", "HTTP API"},
	{"tests/e2e", "E2E"},
}

// Result is one test's outcome
type Result struct {
	Name        string      `json:"name"`
	Package     string      `json:"package"`
	Status      string      `json:"status"`
	Elapsed     float64     `json:"elapsed_seconds"`
	Output      string      `json:"failure_output,omitempty"`
	Annotations Annotations `json:"annotations"`
}

// Report is the full run
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	NotRun      int       `json:"not_run"`
	Results     []*Result `json:"results"`
}

type testEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var input, outJSON, outMD, title, category string

	cmd := &cobra.Command{
		Use:          "report_gen",
		Short:        "Build test reports from go test -json output",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := collect(".", input)
			if err != nil {
				return err
			}
			if category != "" {
				results = filter(results, category)
			}
			report := summarize(results)

			if err := writeJSON(report, outJSON); err != nil {
				return err
			}
			if err := os.WriteFile(outMD, []byte(markdown(report, title)), 0o644); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d tests failed", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "go test -json output file")
	cmd.Flags().StringVar(&outJSON, "out-json", "test-report.json", "JSON report path")
	cmd.Flags().StringVar(&outMD, "out-md", "test-report.md", "Markdown report path")
	cmd.Flags().StringVar(&title, "title", "JeMa Test Report", "Report title")
	cmd.Flags().StringVar(&category, "category", "", "Only report this category")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// collect scans annotations under root and applies the outcomes in input.
// Annotated tests missing from the run are reported as not run.
func collect(root, input string) ([]*Result, error) {
	byKey, err := scanAnnotations(root)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	output := make(map[string]*strings.Builder)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev testEvent
		if json.Unmarshal(scanner.Bytes(), &ev) != nil || ev.Test == "" {
			continue
		}

		key := ev.Package + "." + ev.Test
		res, ok := byKey[key]
		if !ok {
			res = &Result{Name: ev.Test, Package: ev.Package, Status: "not run"}
			res.Annotations = parentAnnotations(byKey, ev.Package, ev.Test)
			byKey[key] = res
		}

		switch ev.Action {
		case "output":
			if output[key] == nil {
				output[key] = &strings.Builder{}
			}
			output[key].WriteString(ev.Output)
		case "pass", "fail", "skip":
			res.Status = ev.Action
			res.Elapsed = ev.Elapsed
			if ev.Action == "fail" && output[key] != nil {
				res.Output = output[key].String()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(byKey))
	for _, r := range byKey {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Package != results[j].Package {
			return results[i].Package < results[j].Package
		}
		return results[i].Name < results[j].Name
	})
	return results, nil
}

// parentAnnotations lets subtests inherit their top-level test's tags
func parentAnnotations(byKey map[string]*Result, pkg, test string) Annotations {
	top, _, _ := strings.Cut(test, "/")
	if parent, ok := byKey[pkg+"."+top]; ok {
		return parent.Annotations
	}
	return Annotations{Category: categoryFor(strings.TrimPrefix(pkg, modulePath+"/"))}
}

func scanAnnotations(root string) (map[string]*Result, error) {
	byKey := make(map[string]*Result)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && (strings.HasPrefix(d.Name(), "_") || d.Name() == ".git" || d.Name() == "vendor") {
			return filepath.SkipDir
		}
		if d.IsDir() || !strings.HasSuffix(p, "_test.go") {
			return nil
		}

		file, err := parser.ParseFile(fset, p, nil, parser.ParseComments)
		if err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}

		dir := filepath.ToSlash(filepath.Dir(p))
		pkg := path.Join(modulePath, dir)
		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}
			byKey[pkg+"."+fn.Name.Name] = &Result{
				Name:        fn.Name.Name,
				Package:     pkg,
				Status:      "not run",
				Annotations: annotate(fn.Doc, dir),
			}
		}
		return nil
	})
	return byKey, err
}

func annotate(doc *ast.CommentGroup, dir string) Annotations {
	a := Annotations{Category: categoryFor(dir)}
	if doc == nil {
		return a
	}
	for _, c := range doc.List {
		text := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
		for _, tag := range annotationTags {
			if v, ok := strings.CutPrefix(text, tag.prefix); ok {
				*tag.field(&a) = strings.TrimSpace(v)
				break
			}
		}
	}
	return a
}

func categoryFor(dir string) string {
	for _, c := range categories {
		if dir == c.dir || strings.HasPrefix(dir, c.dir+"/") {
			return c.name
		}
	}
	return "Other"
}

func filter(results []*Result, category string) []*Result {
	var out []*Result
	for _, r := range results {
		if strings.EqualFold(r.Annotations.Category, category) {
			out = append(out, r)
		}
	}
	return out
}

func summarize(results []*Result) *Report {
	r := &Report{GeneratedAt: time.Now().UTC(), Total: len(results), Results: results}
	for _, res := range results {
		switch res.Status {
		case "pass":
			r.Passed++
		case "fail":
			r.Failed++
		case "skip":
			r.Skipped++
		default:
			r.NotRun++
		}
	}
	return r
}

func writeJSON(report *Report, p string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func markdown(report *Report, title string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\nGenerated %s\n\n", title, report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "| Total | Passed | Failed | Skipped | Not run |\n|---|---|---|---|---|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d | %d |\n\n", report.Total, report.Passed, report.Failed, report.Skipped, report.NotRun)

	grouped := make(map[string][]*Result)
	var names []string
	for _, r := range report.Results {
		c := r.Annotations.Category
		if _, ok := grouped[c]; !ok {
			names = append(names, c)
		}
		grouped[c] = append(grouped[c], r)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(&sb, "## %s\n\n| ID | Test | Status | Purpose | Expected |\n|---|---|---|---|---|\n", name)
		for _, r := range grouped[name] {
			fmt.Fprintf(&sb, "| %s | `%s` | %s | %s | %s |\n",
				r.Annotations.TestCaseID, r.Name, r.Status,
				cell(r.Annotations.Purpose), cell(r.Annotations.Expected))
		}
		sb.WriteString("\n")
	}

	if report.Failed > 0 {
		sb.WriteString("## Failures\n\n")
		for _, r := range report.Results {
			if r.Status == "fail" {
				fmt.Fprintf(&sb, "### %s.%s\n\n```\n%s```\n\n", r.Package, r.Name, r.Output)
			}
		}
	}
	return sb.String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
