package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleRelation(name string) *RelationInfo {
	return &RelationInfo{
		Name: name,
		Fields: []FieldInfo{
			{Name: "id", Index: 0, Length: 4, FieldType: "int32"},
			{Name: "phone", Index: 1, Length: 11, FieldType: "string"},
			{Name: "blob", Index: 2, Length: 440, FieldType: "string"},
		},
		KeyColumn: 0,
		DataPath:  "/tmp/" + name + ".dat",
		IndexPath: "/tmp/" + name + ".idx",
	}
}

func TestCreateOpenDropTable(t *testing.T) {
	e := NewEngine()
	rel := sampleRelation("people")
	if err := e.CreateTable(rel); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if rel.Comparator() == nil {
		t.Fatalf("expected comparator to be resolved")
	}

	got, err := e.Open("people")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got != rel {
		t.Fatalf("Open returned a different RelationInfo")
	}

	if err := e.CreateTable(sampleRelation("people")); err == nil {
		t.Fatalf("expected error creating a duplicate relation")
	}

	if err := e.Drop("people"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if _, err := e.Open("people"); err == nil {
		t.Fatalf("expected Open to fail after Drop")
	}
}

func TestValidateRejectsBadKeyColumn(t *testing.T) {
	rel := sampleRelation("bad")
	rel.KeyColumn = 9
	if err := rel.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range key column")
	}
}

func TestValidateRejectsEmptyFields(t *testing.T) {
	rel := &RelationInfo{Name: "empty", DataPath: "a", IndexPath: "b"}
	if err := rel.Validate(); err == nil {
		t.Fatalf("expected error for empty field list")
	}
}

func TestCreateTableRejectsUnknownType(t *testing.T) {
	e := NewEngine()
	rel := sampleRelation("weird")
	rel.Fields[0].FieldType = "nonsense"
	if err := e.CreateTable(rel); err == nil {
		t.Fatalf("expected error for unknown field type")
	}
}

func TestLoadEngineConfigAndApply(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "engine.yaml")
	yamlContent := `
relations:
  - name: people
    key_column: 0
    data_path: ` + dir + `/people.dat
    index_path: ` + dir + `/people.idx
    fields:
      - name: id
        type: int32
        length: 4
      - name: phone
        type: string
        length: 11
`
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadEngineConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadEngineConfig: %v", err)
	}
	if len(cfg.Relations) != 1 || cfg.Relations[0].Name != "people" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	e := NewEngine()
	if err := cfg.Apply(e); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := e.Open("people"); err != nil {
		t.Fatalf("Open after Apply: %v", err)
	}
}
