package version_test

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/shpitdev/extruct-enrichment/internal/cli"
	"github.com/shpitdev/extruct-enrichment/internal/version"
)

var semver = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+$`)

func TestCurrentIsPlainSemver(t *testing.T) {
	if !semver.MatchString(version.Current) {
		t.Fatalf("Current=%q must be <major>.<minor>.<patch> without a v prefix", version.Current)
	}
}

func TestCLIReportsCurrent(t *testing.T) {
	noEnv := func(string) (string, bool) { return "", false }

	for _, args := range [][]string{{"version"}, {"--version"}} {
		var stdout, stderr bytes.Buffer
		code := cli.Execute(context.Background(), args, &stdout, &stderr, noEnv)
		if code != cli.ExitOK {
			t.Fatalf("%v: exit %d, stderr=%q", args, code, stderr.String())
		}
		if !strings.Contains(stdout.String(), version.Current) {
			t.Fatalf("%v: stdout=%q does not mention %s", args, stdout.String(), version.Current)
		}
	}
}
