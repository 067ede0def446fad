package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEveryUpHasDown(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	ups := 0
	for name := range names {
		if strings.HasSuffix(name, ".up.sql") {
			ups++
			down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
			if !names[down] {
				t.Fatalf("missing %s", down)
			}
		}
	}
	if ups != 4 {
		t.Fatalf("expected 4 up migrations, got %d", ups)
	}
}

func TestDiagnosesSchemaMatchesPersister(t *testing.T) {
	data, err := fs.ReadFile(FS, "000002_diagnoses.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, col := range []string{"user_id", "patient_info_id", "image_url", "predictions", "top_prediction", "confidence_score", "heatmap_base64", "pdf_base64"} {
		if !strings.Contains(string(data), col) {
			t.Fatalf("diagnoses table missing column %s", col)
		}
	}
}
