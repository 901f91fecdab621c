package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCollectJobsFromBatchFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "jobs.yaml", `
jobs:
  - title: "Midnight Drive"
    style: "synthwave, retro"
    lyrics: |
      city lights below
  - title: "Second"
    style: "lofi"
`)

	jobs, err := collectJobs(path, "", "", "", "")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "Midnight Drive", jobs[0].Title)
	assert.Equal(t, "synthwave, retro", jobs[0].Style)
	assert.Contains(t, jobs[0].Lyrics, "city lights")
	assert.Equal(t, "lofi", jobs[1].Style)
}

func TestCollectJobsSingleJobFlags(t *testing.T) {
	jobs, err := collectJobs("", "My Song", "ambient", "la la la", "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "My Song", jobs[0].Title)
	assert.Equal(t, "la la la", jobs[0].Lyrics)
}

func TestCollectJobsLyricsFromFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "lyrics.txt", "verse one\nverse two\n")

	jobs, err := collectJobs("", "T", "rock", "", path)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "verse one\nverse two\n", jobs[0].Lyrics)
}

func TestCollectJobsMergesFileAndFlags(t *testing.T) {
	path := writeFile(t, t.TempDir(), "jobs.yaml", `
jobs:
  - style: "jazz"
`)

	jobs, err := collectJobs(path, "Extra", "metal", "", "")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "metal", jobs[1].Style)
}

func TestCollectJobsRejectsMissingStyle(t *testing.T) {
	path := writeFile(t, t.TempDir(), "jobs.yaml", `
jobs:
  - title: "No Style"
`)

	_, err := collectJobs(path, "", "", "", "")
	require.Error(t, err)
}

func TestCollectJobsMissingBatchFile(t *testing.T) {
	_, err := collectJobs("/nonexistent/jobs.yaml", "", "", "", "")
	require.Error(t, err)
}
