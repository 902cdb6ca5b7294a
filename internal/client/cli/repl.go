package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Folders(ctx context.Context) error
	CreateFolder(ctx context.Context, name string) error
	RenameFolder(ctx context.Context, num, newName string) error
	DeleteFolder(ctx context.Context, num string) error
	Images(ctx context.Context, folderNum string) error
	Upload(ctx context.Context, folderNum, path string) error
	RenameImage(ctx context.Context, num, newName string) error
	DeleteImage(ctx context.Context, num string) error
	Show(ctx context.Context, num string) error
	Analysis(ctx context.Context, num string) error
	Sync(ctx context.Context) error
	Retry(ctx context.Context) error
	QueueStatus(ctx context.Context) error
	ClearCache(ctx context.Context) error
}

// runREPL starts a simple read-eval-print loop over the sync engine.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Commands:
//
//	folders                    — list folders (numbers are used below)
//	mkdir <name>               — create a folder
//	mvdir <n> <name>           — rename folder n
//	rmdir <n>                  — delete folder n
//	images <n>                 — list images of folder n
//	upload <n> <path>          — queue a device file for upload into folder n
//	mv <i> <name>              — rename image i
//	rm <i>                     — delete image i
//	show <i>                   — print the display URI of image i
//	analysis <i>               — print the latest analysis of image i
//	sync                       — run one push+pull cycle now
//	retry                      — reset failed operations and sync
//	status                     — connectivity, sync state, queue counters
//	clearcache                 — wipe downloaded image bytes
//	exit | quit                — leave the program
//
// Any errors returned by command handlers are ignored here; handlers print
// their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("cellsync (%s)> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			printlnFn("Available commands: folders, mkdir, mvdir, rmdir, images, upload, mv, rm, show, analysis, sync, retry, status, clearcache, exit")

		case "folders":
			_ = a.Folders(ctx)

		case "mkdir":
			if len(args) < 1 {
				printlnFn("Usage: mkdir <name>")
				continue
			}
			_ = a.CreateFolder(ctx, strings.Join(args, " "))

		case "mvdir":
			if len(args) < 2 {
				printlnFn("Usage: mvdir <folder#> <new name>")
				continue
			}
			_ = a.RenameFolder(ctx, args[0], strings.Join(args[1:], " "))

		case "rmdir":
			if len(args) != 1 {
				printlnFn("Usage: rmdir <folder#>")
				continue
			}
			_ = a.DeleteFolder(ctx, args[0])

		case "images":
			if len(args) != 1 {
				printlnFn("Usage: images <folder#>")
				continue
			}
			_ = a.Images(ctx, args[0])

		case "upload":
			if len(args) != 2 {
				printlnFn("Usage: upload <folder#> <path>")
				continue
			}
			_ = a.Upload(ctx, args[0], args[1])

		case "mv":
			if len(args) < 2 {
				printlnFn("Usage: mv <image#> <new name>")
				continue
			}
			_ = a.RenameImage(ctx, args[0], strings.Join(args[1:], " "))

		case "rm":
			if len(args) != 1 {
				printlnFn("Usage: rm <image#>")
				continue
			}
			_ = a.DeleteImage(ctx, args[0])

		case "show":
			if len(args) != 1 {
				printlnFn("Usage: show <image#>")
				continue
			}
			_ = a.Show(ctx, args[0])

		case "analysis":
			if len(args) != 1 {
				printlnFn("Usage: analysis <image#>")
				continue
			}
			_ = a.Analysis(ctx, args[0])

		case "sync":
			_ = a.Sync(ctx)

		case "retry":
			_ = a.Retry(ctx)

		case "status":
			_ = a.QueueStatus(ctx)

		case "clearcache":
			_ = a.ClearCache(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
