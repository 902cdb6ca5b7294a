// Package cli wires the sync engine together and drives it from a small
// interactive shell. It exists for development and field debugging; the
// mobile UI talks to the same services through bindings instead.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/cellatlas/cellsync/internal/client/api"
	"github.com/cellatlas/cellsync/internal/client/config"
	"github.com/cellatlas/cellsync/internal/client/imgcache"
	"github.com/cellatlas/cellsync/internal/client/netmon"
	"github.com/cellatlas/cellsync/internal/client/repositories/analysis"
	"github.com/cellatlas/cellsync/internal/client/repositories/folders"
	"github.com/cellatlas/cellsync/internal/client/repositories/images"
	"github.com/cellatlas/cellsync/internal/client/repositories/queue"
	"github.com/cellatlas/cellsync/internal/client/services"
	"github.com/cellatlas/cellsync/internal/client/store"
	"github.com/cellatlas/cellsync/internal/client/syncer"
	"github.com/cellatlas/cellsync/internal/common"
	"github.com/cellatlas/cellsync/internal/logging"

	_ "modernc.org/sqlite"
)

// App holds the assembled engine plus the REPL's display state: a stable
// numbering of folders and images so the user can say "images 2" instead of
// pasting UUIDs.
type App struct {
	config   *config.Config
	log      logging.Logger
	library  services.LibraryService
	analysis services.AnalysisService
	orch     *syncer.Orchestrator
	monitor  *netmon.Monitor
	cache    *imgcache.Cache
	close    func()

	folderIDs map[int]string // display number -> folder local id
	imageIDs  map[int]string // display number -> image local id
}

func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()
	log := logging.NewTextLogger(os.Stderr, slog.LevelInfo)

	db, err := store.Open(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	folderRepo := folders.NewSQLiteRepository(db)
	imageRepo := images.NewSQLiteRepository(db)
	queueRepo := queue.NewSQLiteRepository(db)
	analysisRepo := analysis.NewSQLiteRepository(db)

	apiClient := api.New(c.ServerBaseURL, api.StaticToken(c.AuthToken), c.RequestTimeout)

	monitor := netmon.New(apiClient, c.OnlineCheckInterval, log)

	cache, err := imgcache.New(c.CacheDir, apiClient, imageRepo, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	orch := syncer.New(apiClient, folderRepo, imageRepo, queueRepo, monitor, log)

	library := services.NewLibraryService(apiClient, db, orch, monitor, cache, log)
	analysisSvc := services.NewAnalysisService(apiClient, imageRepo, analysisRepo, monitor, log)

	app := &App{
		config:    c,
		log:       log,
		library:   library,
		analysis:  analysisSvc,
		orch:      orch,
		monitor:   monitor,
		cache:     cache,
		folderIDs: make(map[int]string),
		imageIDs:  make(map[int]string),
		close: func() {
			monitor.Stop()
			_ = db.Close()
		},
	}
	return app, nil
}

// Run starts connectivity monitoring and the shell, syncing automatically on
// every offline-to-online transition.
func (a *App) Run(ctx context.Context) {
	a.monitor.Start(ctx)
	defer a.close()

	unsubscribe := a.monitor.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := a.orch.SyncAll(sctx); err != nil {
				a.log.Warn(sctx, "reconnect sync failed", "error", err)
			}
		}()
	})
	defer unsubscribe()

	printlnFn("Welcome to cellsync (type 'help' for commands)")
	runREPL(ctx, a, a.status, bufio.NewScanner(os.Stdin))
}

func (a *App) status() string {
	mode := "offline"
	if a.monitor.Online() {
		mode = "online"
	}
	return fmt.Sprintf("%s/%s", mode, a.orch.Status())
}

func (a *App) Folders(ctx context.Context) error {
	list, err := a.library.ListFolders(ctx)
	if err != nil {
		printlnFn("error:", err)
		return err
	}

	a.folderIDs = make(map[int]string)
	for i, f := range list {
		a.folderIDs[i+1] = f.LocalID
		printlnFn(fmt.Sprintf("%3d  %-30s  %4d images  [%s]", i+1, f.Name, f.ImageCount, f.SyncStatus))
	}
	if len(list) == 0 {
		printlnFn("no folders")
	}
	return nil
}

func (a *App) CreateFolder(ctx context.Context, name string) error {
	if _, err := a.library.CreateFolder(ctx, name); err != nil {
		printlnFn("error:", err)
		return err
	}
	printlnFn("folder created")
	return nil
}

func (a *App) RenameFolder(ctx context.Context, num, newName string) error {
	localID, err := a.resolveFolder(num)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	if err := a.library.RenameFolder(ctx, localID, newName); err != nil {
		printlnFn("error:", err)
		return err
	}
	printlnFn("folder renamed")
	return nil
}

func (a *App) DeleteFolder(ctx context.Context, num string) error {
	localID, err := a.resolveFolder(num)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	if err := a.library.DeleteFolder(ctx, localID); err != nil {
		printlnFn("error:", err)
		return err
	}
	printlnFn("folder deleted")
	return nil
}

func (a *App) Images(ctx context.Context, folderNum string) error {
	localID, err := a.resolveFolder(folderNum)
	if err != nil {
		printlnFn("error:", err)
		return err
	}

	list, err := a.library.ListImages(ctx, localID)
	if err != nil {
		printlnFn("error:", err)
		return err
	}

	a.imageIDs = make(map[int]string)
	for i, img := range list {
		a.imageIDs[i+1] = img.LocalID
		marker := " "
		if img.HasAnalysis {
			marker = "A"
		}
		printlnFn(fmt.Sprintf("%3d %s %-30s  %8d bytes  [%s]", i+1, marker, img.Filename, img.FileSize, img.SyncStatus))
	}
	if len(list) == 0 {
		printlnFn("no images")
	}
	return nil
}

func (a *App) Upload(ctx context.Context, folderNum, path string) error {
	localID, err := a.resolveFolder(folderNum)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	img, err := a.library.UploadImage(ctx, localID, path)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	printlnFn(fmt.Sprintf("queued %s (%s, %d bytes)", img.Filename, img.MimeType, img.FileSize))
	return nil
}

func (a *App) RenameImage(ctx context.Context, num, newName string) error {
	localID, err := a.resolveImage(num)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	if err := a.library.RenameImage(ctx, localID, newName); err != nil {
		printlnFn("error:", err)
		return err
	}
	printlnFn("image renamed")
	return nil
}

func (a *App) DeleteImage(ctx context.Context, num string) error {
	localID, err := a.resolveImage(num)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	if err := a.library.DeleteImage(ctx, localID); err != nil {
		printlnFn("error:", err)
		return err
	}
	printlnFn("image deleted")
	return nil
}

func (a *App) Show(ctx context.Context, num string) error {
	localID, err := a.resolveImage(num)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	uri, err := a.library.ImageDisplayURI(ctx, localID)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	where := "remote"
	if uri.IsLocal {
		where = "local"
	}
	printlnFn(fmt.Sprintf("%s (%s)", uri.URI, where))
	return nil
}

func (a *App) Analysis(ctx context.Context, num string) error {
	localID, err := a.resolveImage(num)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	res, err := a.analysis.Result(ctx, localID)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	printlnFn(fmt.Sprintf("job %d, analyzed %s", res.JobID, res.AnalyzedAt.Format(time.RFC3339)))
	printlnFn(fmt.Sprintf("  viable    %5d (%.1f%%)", res.ViableCount, res.ViablePct))
	printlnFn(fmt.Sprintf("  apoptosis %5d (%.1f%%)", res.ApoptosisCount, res.ApoptosisPct))
	printlnFn(fmt.Sprintf("  other     %5d (%.1f%%)", res.OtherCount, res.OtherPct))
	printlnFn(fmt.Sprintf("  total %d cells, avg confidence %.2f", res.TotalCells, res.AvgConfidence))
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	// the automatic triggers stay silent offline; an explicit sync request
	// deserves a clear answer
	if !a.monitor.Online() {
		printlnFn("sync error:", common.ErrOffline)
		return common.ErrOffline
	}
	if err := a.orch.SyncAll(ctx); err != nil {
		printlnFn("sync error:", err)
		return err
	}
	printlnFn("sync finished:", string(a.orch.Status()))
	return nil
}

func (a *App) Retry(ctx context.Context) error {
	if err := a.orch.RetryFailed(ctx); err != nil {
		printlnFn("retry error:", err)
		return err
	}
	printlnFn("retry finished:", string(a.orch.Status()))
	return nil
}

func (a *App) QueueStatus(ctx context.Context) error {
	pending, err := a.orch.PendingCount(ctx)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	failed, err := a.orch.FailedCount(ctx)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	size, err := a.cache.TotalSize()
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	printlnFn(fmt.Sprintf("%s, %d pending, %d failed, cache %d bytes", a.status(), pending, failed, size))
	return nil
}

func (a *App) ClearCache(ctx context.Context) error {
	if err := a.cache.ClearAll(ctx); err != nil {
		printlnFn("error:", err)
		return err
	}
	printlnFn("image cache cleared")
	return nil
}

func (a *App) resolveFolder(num string) (string, error) {
	return resolveNumbered(num, a.folderIDs, "folder")
}

func (a *App) resolveImage(num string) (string, error) {
	return resolveNumbered(num, a.imageIDs, "image")
}

// resolveNumbered maps a display number from the last listing back to a
// local id.
func resolveNumbered(num string, ids map[int]string, kind string) (string, error) {
	n, err := strconv.Atoi(num)
	if err != nil {
		return "", fmt.Errorf("%q is not a %s number", num, kind)
	}
	localID, ok := ids[n]
	if !ok {
		known := make([]int, 0, len(ids))
		for k := range ids {
			known = append(known, k)
		}
		sort.Ints(known)
		return "", fmt.Errorf("unknown %s %d, list first (have %v)", kind, n, known)
	}
	return localID, nil
}
