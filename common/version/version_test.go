package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	old := GitCommit
	GitCommit = "abc1234"
	defer func() { GitCommit = old }()

	got := Info()
	if !strings.HasPrefix(got, "yumi "+Version+" (abc1234)") {
		t.Fatalf("Info() = %q", got)
	}
}
