package project

import "testing"

func TestParseMinimal(t *testing.T) {
	data := []byte(`{
		"name": "Game",
		"tree": {
			"className": "DataModel",
			"children": {
				"ReplicatedStorage": {
					"$path": "src/Shared"
				}
			}
		},
		"ignorePaths": ["src/Shared/.cache"]
	}`)

	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "Game" {
		t.Errorf("Name = %q", p.Name)
	}
	child, ok := p.Tree.Children["ReplicatedStorage"]
	if !ok || child.Path != "src/Shared" {
		t.Errorf("child = %+v", child)
	}
	if len(p.IgnorePaths) != 1 {
		t.Errorf("IgnorePaths = %v", p.IgnorePaths)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	data := []byte(`{"name": "Game", "tree": {}, "bogus": true}`)
	if _, err := Parse(data); err == nil {
		t.Error("expected error for unknown top-level field")
	}
}

func TestParseRequiresName(t *testing.T) {
	data := []byte(`{"tree": {}}`)
	if _, err := Parse(data); err == nil {
		t.Error("expected error for missing name")
	}
}
