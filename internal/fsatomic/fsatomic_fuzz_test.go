package fsatomic

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type snapshot struct {
	Step  int      `json:"currentStep"`
	Disks []string `json:"selectedDataDisks"`
}

func FuzzLoadJSONWithTornTmp(f *testing.F) {
	path := filepath.Join(f.TempDir(), "wizard.json")
	_ = SaveJSON(context.TODO(), path, snapshot{Step: 2, Disks: []string{"sda"}}, 0o600)
	f.Add([]byte("{"))
	f.Add([]byte("{\n\"currentStep\":"))
	f.Fuzz(func(t *testing.T, partial []byte) {
		_ = os.WriteFile(path+".tmp", partial, 0o600)
		var out snapshot
		ok, err := LoadJSON(path, &out)
		if err != nil || !ok || out.Step != 2 {
			t.Fatalf("torn tmp leaked into load: ok=%v err=%v out=%+v", ok, err, out)
		}
	})
}
