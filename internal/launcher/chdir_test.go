package launcher

import (
	"os"
	"path/filepath"
	"testing"
)

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it changes
// the working directory and PWD for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Open(".")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		oldwd.Close()
		t.Fatal(err)
	}
	if !filepath.IsAbs(dir) {
		dir, err = os.Getwd()
		if err != nil {
			oldwd.Close()
			t.Fatal(err)
		}
	}
	oldPWD, hadPWD := os.LookupEnv("PWD")
	os.Setenv("PWD", dir)
	t.Cleanup(func() {
		defer oldwd.Close()
		if err := oldwd.Chdir(); err != nil {
			panic("testing.Chdir: " + err.Error())
		}
		if hadPWD {
			os.Setenv("PWD", oldPWD)
		} else {
			os.Unsetenv("PWD")
		}
	})
}
