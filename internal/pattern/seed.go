package pattern

import "time"

// seedTime stamps built-in patterns so any later user save wins on seed
var seedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// BuiltinPatterns returns the fixed catalog installed at process start.
// Tool names refer to the generic invocation boundary; the engine has no
// knowledge of their semantics.
func BuiltinPatterns() []*Pattern {
	return []*Pattern{
		{
			Name:        "investigate-and-fix",
			Description: "Locate a reported defect, inspect the offending code, and apply a fix",
			Category:    CategoryDebugging,
			Steps: []Step{
				{
					Tool:      "memory_search",
					Args:      map[string]interface{}{"query": "{input.task}"},
					OutputKey: "recall",
					Bindings: []Binding{
						{Name: "query", Source: SourceInput, Path: "task", Required: true},
					},
				},
				{
					Tool:      "file_read",
					OutputKey: "source",
					Bindings: []Binding{
						{Name: "path", Source: SourceInput, Path: "path", Required: true},
					},
					Validation: &ValidationRule{NonEmpty: true},
				},
				{
					Tool:      "file_edit",
					OutputKey: "fix",
					Bindings: []Binding{
						{Name: "path", Source: SourceInput, Path: "path", Required: true},
						{Name: "content", Source: SourceStep, Path: "source.content", Required: false},
					},
					Validation: &ValidationRule{StatusField: "status"},
				},
				{
					Tool:      "terminal",
					Args:      map[string]interface{}{"command": "run tests"},
					OutputKey: "verify",
				},
			},
			Metadata:    map[string]interface{}{"builtin": true, "keywords": "fix bug error crash defect broken failure line"},
			SuccessRate: 0.7,
			Occurrences: 1,
			Strength:    0.6,
			CreatedAt:   seedTime,
			UpdatedAt:   seedTime,
		},
		{
			Name:        "trace-symbol",
			Description: "Find a symbol's definition and the call sites that reference it",
			Category:    CategoryCodeNavigation,
			Steps: []Step{
				{
					Tool:      "grep",
					OutputKey: "definition",
					Bindings: []Binding{
						{Name: "pattern", Source: SourceInput, Path: "symbol", Required: true},
					},
					Validation: &ValidationRule{NonEmpty: true},
				},
				{
					Tool:      "file_read",
					OutputKey: "context",
					Bindings: []Binding{
						{Name: "path", Source: SourceStep, Path: "definition.path", Required: true},
					},
				},
			},
			Metadata:    map[string]interface{}{"builtin": true, "keywords": "find where defined callers references usage navigate symbol function"},
			SuccessRate: 0.8,
			Occurrences: 1,
			Strength:    0.6,
			CreatedAt:   seedTime,
			UpdatedAt:   seedTime,
		},
		{
			Name:        "edit-with-review",
			Description: "Read a file, apply an edit, and re-read to confirm the change landed",
			Category:    CategoryFileEditing,
			Steps: []Step{
				{
					Tool:      "file_read",
					OutputKey: "before",
					Bindings: []Binding{
						{Name: "path", Source: SourceInput, Path: "path", Required: true},
					},
				},
				{
					Tool:      "file_edit",
					OutputKey: "edit",
					Bindings: []Binding{
						{Name: "path", Source: SourceInput, Path: "path", Required: true},
						{Name: "changes", Source: SourceInput, Path: "changes", Required: true},
					},
					Validation: &ValidationRule{StatusField: "status"},
				},
				{
					Tool:      "file_read",
					OutputKey: "after",
					Bindings: []Binding{
						{Name: "path", Source: SourceInput, Path: "path", Required: true},
					},
					Validation: &ValidationRule{NonEmpty: true},
				},
			},
			Metadata:    map[string]interface{}{"builtin": true, "keywords": "edit change modify update write replace rename file"},
			SuccessRate: 0.85,
			Occurrences: 1,
			Strength:    0.6,
			CreatedAt:   seedTime,
			UpdatedAt:   seedTime,
		},
		{
			Name:        "gather-context",
			Description: "Assemble background for a task from memory, project files, and the web",
			Category:    CategoryContextGathering,
			Steps: []Step{
				{
					Tool:      "memory_search",
					OutputKey: "recall",
					Bindings: []Binding{
						{Name: "query", Source: SourceInput, Path: "task", Required: true},
					},
				},
				{
					Tool:      "list_files",
					Args:      map[string]interface{}{"path": "."},
					OutputKey: "tree",
				},
				{
					Tool:      "web_fetch",
					OutputKey: "reference",
					Bindings: []Binding{
						{Name: "url", Source: SourceInput, Path: "url", Required: false},
					},
				},
			},
			Metadata:    map[string]interface{}{"builtin": true, "keywords": "context background understand research gather learn about overview"},
			SuccessRate: 0.75,
			Occurrences: 1,
			Strength:    0.6,
			CreatedAt:   seedTime,
			UpdatedAt:   seedTime,
		},
		{
			Name:        "run-and-triage-tests",
			Description: "Run the test suite and pull the source of any failing test",
			Category:    CategoryTesting,
			Steps: []Step{
				{
					Tool:      "terminal",
					Args:      map[string]interface{}{"command": "run tests"},
					OutputKey: "run",
					Validation: &ValidationRule{
						RequireKeys: []string{"output"},
					},
				},
				{
					Tool:      "file_read",
					OutputKey: "failing",
					Bindings: []Binding{
						{Name: "path", Source: SourceStep, Path: "run.failed_file", Required: false},
					},
				},
			},
			Metadata:    map[string]interface{}{"builtin": true, "keywords": "test tests suite spec coverage assert failing flaky verify"},
			SuccessRate: 0.8,
			Occurrences: 1,
			Strength:    0.6,
			CreatedAt:   seedTime,
			UpdatedAt:   seedTime,
		},
	}
}
