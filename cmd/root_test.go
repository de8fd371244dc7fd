package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsfeeds/internal/dispatcher"
)

const memoryConfig = `
logging:
  level: error
storage:
  backend: memory
deadletter:
  backend: memory
queue:
  backend: memory
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	cfg := writeFile(t, "config.yaml", memoryConfig)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"--config", cfg}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestEnqueueTextOutput(t *testing.T) {
	code, out, errOut := runCLI(t, "enqueue", "Acme Corp:Reuters", "Globex: Yahoo Finance ")
	require.Equal(t, 0, code, errOut)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Regexp(t, `^Queued Acme Corp / Reuters \(task_id=[0-9a-f-]{36}, status=PENDING\)$`, lines[0])
	assert.Regexp(t, `^Queued Globex / Yahoo Finance \(task_id=[0-9a-f-]{36}, status=PENDING\)$`, lines[1])
}

func TestEnqueueJSONCombinesFileAndArgs(t *testing.T) {
	pairs := writeFile(t, "pairs.json", `[{"company":"Acme","sources":["Reuters","CNBC"]}]`)
	code, out, errOut := runCLI(t, "enqueue", "--file", pairs, "--serialize", "json", "Initech:Bloomberg")
	require.Equal(t, 0, code, errOut)

	var subs []dispatcher.Submission
	require.NoError(t, json.Unmarshal([]byte(out), &subs))
	require.Len(t, subs, 3)
	assert.Equal(t, "CNBC", subs[1].Source)
	assert.Equal(t, "Initech", subs[2].Company)
	assert.NotEmpty(t, subs[2].TaskID)
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	code, out, errOut := runCLI(t, "enqueue")
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "no tasks enqueued")

	code, out, errOut = runCLI(t, "enqueue", "Acme:Reuters", "missing-colon")
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "missing-colon")

	code, _, errOut = runCLI(t, "enqueue", "--serialize", "xml", "Acme:Reuters")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--serialize")
}

func TestDeadLettersEmptyTable(t *testing.T) {
	code, out, errOut := runCLI(t, "deadletters")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "RECORDED AT  STAGE  COMPANY  SOURCE  ERROR\n", out)

	code, out, errOut = runCLI(t, "deadletters", "--serialize", "json")
	require.Equal(t, 0, code, errOut)
	assert.JSONEq(t, `[]`, out)
}

func TestInitBucketMemory(t *testing.T) {
	code, out, errOut := runCLI(t, "init-bucket", "--attempts", "1")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "Bucket newsfeeds ready (created=false)\n", out)
}

func TestInvalidConfigFails(t *testing.T) {
	cfg := writeFile(t, "config.yaml", "queue:\n  backend: rabbit\n")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", cfg, "deadletters"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "queue.backend")
}

func TestExplicitEnvFileMustExist(t *testing.T) {
	code, _, errOut := runCLI(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "deadletters")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "load env file")
}

func TestEnvFileOverridesConfig(t *testing.T) {
	env := writeFile(t, "test.env", "NEWSFEEDS_STORAGE_BUCKET=from-dotenv\n")
	t.Cleanup(func() { _ = os.Unsetenv("NEWSFEEDS_STORAGE_BUCKET") })

	code, out, errOut := runCLI(t, "--env-file", env, "init-bucket", "--attempts", "1")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "Bucket from-dotenv ready (created=false)\n", out)
}

func TestWriteTableAlignsWideRunes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, []string{"COMPANY", "SOURCE"}, [][]string{
		{"トヨタ", "Nikkei"},
		{"Acme", "Reuters\nwire"},
	}))
	assert.Equal(t, ""+
		"COMPANY  SOURCE\n"+
		"トヨタ   Nikkei\n"+
		"Acme     Reuters wire\n", buf.String())
}
