package log

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogrusLoggerWithOutput("debug", &buf)

	l.WithFields(map[string]interface{}{"status": 200, "path": "/pcd"}).Infof("request %s", "done")
	l.Warnf("careful")
	l.Debugf("details")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)

	ts := `\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}\.\d{6}`
	assert.Regexp(t, regexp.MustCompile(`^`+ts+` \[INF\] request done path=/pcd status=200$`), string(lines[0]))
	assert.Regexp(t, regexp.MustCompile(`^`+ts+` \[WAR\] careful$`), string(lines[1]))
	assert.Regexp(t, regexp.MustCompile(`^`+ts+` \[DEB\] details$`), string(lines[2]))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogrusLoggerWithOutput("not-a-level", &buf)

	l.Debugf("hidden")
	l.Infof("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogrusLoggerFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	l, err := NewLogrusLogger("info", dir)
	require.NoError(t, err)
	l.WithField("file", "merged_0.pcd").Infof("loaded")

	b, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(b), "[INF] loaded file=merged_0.pcd")
}
