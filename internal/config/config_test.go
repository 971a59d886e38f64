package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"opsdesk/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Fork.TaskDueDays != 7 || cfg.Fork.TaskPriority != "medium" {
		t.Fatalf("unexpected fork defaults: %+v", cfg.Fork)
	}
	if _, ok := cfg.RBAC.Roles["owner"]; !ok {
		t.Fatalf("default roles missing owner: %v", cfg.RBAC.Roles)
	}
}

func TestCategoryForType(t *testing.T) {
	cfg := config.Default()
	if got := cfg.CategoryForType("social_profile"); got != "Social Media" {
		t.Fatalf("social_profile -> %q", got)
	}
	if got := cfg.CategoryForType("blog"); got != "Content" {
		t.Fatalf("blog -> %q", got)
	}
	if got := cfg.CategoryForType("unknown_type"); got != "General" {
		t.Fatalf("unknown type should fall back, got %q", got)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fallback config invalid: %v", err)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`agency:
  name: test-agency
categories:
  social_profile: Social
fork:
  task_due_days: 3
  task_priority: high
  task_duration_minutes: 15
  addition_frequency: 2
  addition_period: weekly
  fallback_category: Misc
`)
	if err := os.WriteFile(filepath.Join(dir, "opsdesk.yml"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agency.Name != "test-agency" || cfg.Fork.TaskDueDays != 3 {
		t.Fatalf("file not applied: %+v", cfg)
	}
	if got := cfg.CategoryForType("gmb_listing"); got != "Misc" {
		t.Fatalf("fallback category = %q", got)
	}
}

func TestFromYAMLRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing categories",
			yaml: "fork:\n  task_due_days: 7\n  task_priority: medium\n  task_duration_minutes: 30\n  addition_frequency: 3\n  addition_period: monthly\n  fallback_category: General\n",
			want: "categories",
		},
		{
			name: "bad priority",
			yaml: "categories:\n  blog: Content\nfork:\n  task_due_days: 7\n  task_priority: urgent\n  task_duration_minutes: 30\n  addition_frequency: 3\n  addition_period: monthly\n  fallback_category: General\n",
			want: "task_priority",
		},
		{
			name: "zero due days",
			yaml: "categories:\n  blog: Content\nfork:\n  task_due_days: 0\n  task_priority: medium\n  task_duration_minutes: 30\n  addition_frequency: 3\n  addition_period: monthly\n  fallback_category: General\n",
			want: "task_due_days",
		},
		{
			name: "broken yaml",
			yaml: "categories: [unclosed",
			want: "invalid config yaml",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
