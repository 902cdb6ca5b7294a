package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubExec records which commands were dispatched with which arguments.
type stubExec struct {
	calls []string
}

func (s *stubExec) record(call string) error {
	s.calls = append(s.calls, call)
	return nil
}

func (s *stubExec) Folders(context.Context) error { return s.record("folders") }
func (s *stubExec) CreateFolder(_ context.Context, name string) error {
	return s.record("mkdir:" + name)
}
func (s *stubExec) RenameFolder(_ context.Context, num, newName string) error {
	return s.record("mvdir:" + num + ":" + newName)
}
func (s *stubExec) DeleteFolder(_ context.Context, num string) error {
	return s.record("rmdir:" + num)
}
func (s *stubExec) Images(_ context.Context, folderNum string) error {
	return s.record("images:" + folderNum)
}
func (s *stubExec) Upload(_ context.Context, folderNum, path string) error {
	return s.record("upload:" + folderNum + ":" + path)
}
func (s *stubExec) RenameImage(_ context.Context, num, newName string) error {
	return s.record("mv:" + num + ":" + newName)
}
func (s *stubExec) DeleteImage(_ context.Context, num string) error {
	return s.record("rm:" + num)
}
func (s *stubExec) Show(_ context.Context, num string) error { return s.record("show:" + num) }
func (s *stubExec) Analysis(_ context.Context, num string) error {
	return s.record("analysis:" + num)
}
func (s *stubExec) Sync(context.Context) error        { return s.record("sync") }
func (s *stubExec) Retry(context.Context) error       { return s.record("retry") }
func (s *stubExec) QueueStatus(context.Context) error { return s.record("status") }
func (s *stubExec) ClearCache(context.Context) error  { return s.record("clearcache") }

func runScript(t *testing.T, script string) (*stubExec, []string) {
	t.Helper()

	var out []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		out = append(out, strings.TrimSpace(fmt.Sprintln(a...)))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })

	stub := &stubExec{}
	scanner := bufio.NewScanner(strings.NewReader(script))
	runREPL(context.Background(), stub, func() string { return "offline/idle" }, scanner)
	return stub, out
}

func TestREPL_DispatchesCommands(t *testing.T) {
	stub, _ := runScript(t, strings.Join([]string{
		"folders",
		"mkdir Experiment Batch 1",
		"mvdir 1 Renamed Batch",
		"images 1",
		"upload 1 /tmp/cells.png",
		"mv 2 renamed.png",
		"analysis 2",
		"show 2",
		"rm 2",
		"rmdir 1",
		"sync",
		"retry",
		"status",
		"clearcache",
		"exit",
	}, "\n"))

	assert.Equal(t, []string{
		"folders",
		"mkdir:Experiment Batch 1",
		"mvdir:1:Renamed Batch",
		"images:1",
		"upload:1:/tmp/cells.png",
		"mv:2:renamed.png",
		"analysis:2",
		"show:2",
		"rm:2",
		"rmdir:1",
		"sync",
		"retry",
		"status",
		"clearcache",
	}, stub.calls)
}

func TestREPL_UsageAndUnknown(t *testing.T) {
	stub, out := runScript(t, strings.Join([]string{
		"mkdir",
		"upload 1",
		"mv 2",
		"frobnicate",
		"",
		"quit",
	}, "\n"))

	assert.Empty(t, stub.calls)
	assert.Contains(t, out, "Usage: mkdir <name>")
	assert.Contains(t, out, "Usage: upload <folder#> <path>")
	assert.Contains(t, out, "Usage: mv <image#> <new name>")
	assert.Contains(t, out, "Unknown command: frobnicate")
	assert.Contains(t, out, "Bye!")
}

func TestREPL_ExitsOnEOF(t *testing.T) {
	stub, _ := runScript(t, "folders")
	assert.Equal(t, []string{"folders"}, stub.calls)
}

func TestResolveNumbered(t *testing.T) {
	ids := map[int]string{1: "aaa", 2: "bbb"}

	got, err := resolveNumbered("2", ids, "folder")
	assert.NoError(t, err)
	assert.Equal(t, "bbb", got)

	_, err = resolveNumbered("7", ids, "folder")
	assert.ErrorContains(t, err, "unknown folder 7")

	_, err = resolveNumbered("x", ids, "image")
	assert.ErrorContains(t, err, "not a image number")
}
