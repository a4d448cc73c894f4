package catalog

// Default returns the built-in candidate catalog used when no catalog file is
// present in the workspace. Weights are tuned so that a prompt squarely in a
// candidate's domain clears the auto-dispatch threshold while a glancing
// mention lands in recommendation territory.
func Default() *Catalog {
	entries := []Entry{
		{
			ID:          "security-auditor",
			Kind:        KindAgent,
			Description: "Audits code for vulnerabilities: injection, auth flaws, secrets in source, unsafe deserialization.",
			Keywords: []WeightedTerm{
				{Text: "security", Weight: 30},
				{Text: "vulnerability", Weight: 32},
				{Text: "injection", Weight: 30},
				{Text: "xss", Weight: 30},
				{Text: "csrf", Weight: 28},
				{Text: "audit", Weight: 22},
				{Text: "exploit", Weight: 28},
			},
			Phrases: []WeightedTerm{
				{Text: "sql injection", Weight: 42},
				{Text: "security audit", Weight: 45},
				{Text: "penetration test", Weight: 40},
				{Text: "security review", Weight: 40},
			},
		},
		{
			ID:          "test-writer",
			Kind:        KindAgent,
			Description: "Writes unit and integration tests, improves coverage, sets up test fixtures.",
			Keywords: []WeightedTerm{
				{Text: "test", Weight: 26},
				{Text: "tests", Weight: 26},
				{Text: "coverage", Weight: 30},
				{Text: "testing", Weight: 28},
				{Text: "fixture", Weight: 26},
			},
			Phrases: []WeightedTerm{
				{Text: "unit tests", Weight: 42},
				{Text: "integration tests", Weight: 42},
				{Text: "test coverage", Weight: 44},
				{Text: "write tests", Weight: 45},
			},
		},
		{
			ID:          "code-reviewer",
			Kind:        KindAgent,
			Description: "Reviews diffs and modules for correctness, style, and maintainability.",
			Keywords: []WeightedTerm{
				{Text: "review", Weight: 28},
				{Text: "refactor", Weight: 24},
				{Text: "readability", Weight: 28},
				{Text: "maintainability", Weight: 30},
			},
			Phrases: []WeightedTerm{
				{Text: "code review", Weight: 45},
				{Text: "review this code", Weight: 45},
				{Text: "pull request", Weight: 36},
			},
		},
		{
			ID:          "refactoring-agent",
			Kind:        KindAgent,
			Description: "Restructures code without changing behavior: extraction, renaming, dependency untangling.",
			Keywords: []WeightedTerm{
				{Text: "refactor", Weight: 32},
				{Text: "restructure", Weight: 30},
				{Text: "cleanup", Weight: 24},
				{Text: "simplify", Weight: 24},
				{Text: "microservices", Weight: 28},
				{Text: "monolith", Weight: 26},
			},
			Phrases: []WeightedTerm{
				{Text: "clean up this code", Weight: 42},
				{Text: "extract a function", Weight: 40},
				{Text: "split into microservices", Weight: 44},
			},
		},
		{
			ID:          "debugging-agent",
			Kind:        KindAgent,
			Description: "Investigates failures: stack traces, flaky behavior, race conditions, memory issues.",
			Keywords: []WeightedTerm{
				{Text: "debug", Weight: 30},
				{Text: "bug", Weight: 26},
				{Text: "crash", Weight: 28},
				{Text: "stacktrace", Weight: 32},
				{Text: "panic", Weight: 28},
			},
			Phrases: []WeightedTerm{
				{Text: "stack trace", Weight: 40},
				{Text: "race condition", Weight: 42},
				{Text: "memory leak", Weight: 42},
				{Text: "find the bug", Weight: 44},
			},
		},
		{
			ID:          "api-design-skill",
			Kind:        KindSkill,
			Description: "Reference material on REST and RPC API design: resource naming, versioning, pagination, error envelopes, idempotency keys.",
			TokenCost:   900,
			Keywords: []WeightedTerm{
				{Text: "api", Weight: 24},
				{Text: "rest", Weight: 26},
				{Text: "endpoint", Weight: 28},
				{Text: "versioning", Weight: 28},
				{Text: "pagination", Weight: 30},
			},
			Phrases: []WeightedTerm{
				{Text: "api design", Weight: 44},
				{Text: "rest api", Weight: 40},
				{Text: "design an endpoint", Weight: 42},
			},
		},
		{
			ID:          "database-skill",
			Kind:        KindSkill,
			Description: "Reference material on schema design, indexing strategy, migrations, and query optimization.",
			TokenCost:   800,
			Keywords: []WeightedTerm{
				{Text: "database", Weight: 26},
				{Text: "schema", Weight: 28},
				{Text: "index", Weight: 24},
				{Text: "migration", Weight: 28},
				{Text: "query", Weight: 22},
			},
			Phrases: []WeightedTerm{
				{Text: "schema design", Weight: 44},
				{Text: "query optimization", Weight: 44},
				{Text: "database migration", Weight: 42},
			},
		},
	}

	alternatives := map[string][]string{
		"security-auditor":  {"code-reviewer", "debugging-agent"},
		"test-writer":       {"code-reviewer"},
		"code-reviewer":     {"refactoring-agent"},
		"refactoring-agent": {"code-reviewer"},
		"debugging-agent":   {"test-writer", "code-reviewer"},
	}

	cat, err := New(entries, alternatives)
	if err != nil {
		// The built-in catalog is validated by tests; a failure here is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return cat
}
