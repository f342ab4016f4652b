package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"groupdrive/internal/domain"
	"groupdrive/internal/metrics"
	"groupdrive/internal/repository"
	"groupdrive/internal/sandbox"
	"groupdrive/internal/testutil"
)

const (
	testRoot    = "/data/root"
	testDeleted = "/data/deleted"
)

type testEnv struct {
	db     *sqlx.DB
	fs     afero.Fs
	live   *sandbox.Sandbox
	shadow *sandbox.Sandbox
	clock  *testutil.StubClock

	users        *repository.UserRepository
	admins       *repository.AdminRepository
	groupRepo    *repository.GroupRepository
	metadataRepo *repository.MetadataRepository
	trashRepo    *repository.TrashRepository
	historyRepo  *repository.WorkHistoryRepository

	groups  *GroupService
	perms   *PermissionService
	catalog *CatalogService
	files   *FileService
	folders *FolderService
	trash   *TrashService
}

type envOption func(*envConfig)

type envConfig struct {
	liveFs   afero.Fs
	shadowFs afero.Fs
	archiver Archiver
}

func withLiveFs(fs afero.Fs) envOption   { return func(c *envConfig) { c.liveFs = fs } }
func withShadowFs(fs afero.Fs) envOption { return func(c *envConfig) { c.shadowFs = fs } }
func withArchiver(a Archiver) envOption  { return func(c *envConfig) { c.archiver = a } }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	base := afero.NewMemMapFs()
	cfg := &envConfig{liveFs: base, shadowFs: base}
	for _, opt := range opts {
		opt(cfg)
	}

	require.NoError(t, cfg.liveFs.MkdirAll(testRoot+"/"+domain.GroupsFolder, 0o755))
	if _, err := cfg.shadowFs.Stat(testDeleted); err != nil {
		require.NoError(t, cfg.shadowFs.MkdirAll(testDeleted, 0o755))
	}

	live, err := sandbox.New(cfg.liveFs, testRoot)
	require.NoError(t, err)
	shadow, err := sandbox.New(cfg.shadowFs, testDeleted)
	require.NoError(t, err)

	db := testutil.NewTestDB(t)
	logger := testutil.DiscardLogger()
	clock := testutil.FixedClock()
	m := metrics.NewNoop()
	locker := NewPathLocker()

	env := &testEnv{
		db:           db,
		fs:           cfg.liveFs,
		live:         live,
		shadow:       shadow,
		clock:        clock,
		users:        repository.NewUserRepository(db),
		admins:       repository.NewAdminRepository(db),
		groupRepo:    repository.NewGroupRepository(db),
		metadataRepo: repository.NewMetadataRepository(db),
		trashRepo:    repository.NewTrashRepository(db),
		historyRepo:  repository.NewWorkHistoryRepository(db),
	}
	env.groups = NewGroupService(env.groupRepo, env.users, live, clock, logger)
	env.perms = NewPermissionService(env.groups, env.groupRepo, env.users, env.metadataRepo, live, clock, logger)
	env.catalog = NewCatalogService(live, env.perms, m, logger)
	env.files = NewFileService(live, env.perms, env.historyRepo, locker, clock, m, logger)
	env.folders = NewFolderService(live, env.perms, env.historyRepo, locker, clock, m, logger)
	env.trash = NewTrashService(live, shadow, env.trashRepo, env.metadataRepo, env.historyRepo, env.groupRepo,
		env.perms, locker, cfg.archiver, clock, m, logger, 720*time.Hour)
	return env
}

// user создаёт пользователя и возвращает его как принципала
func (e *testEnv) user(t *testing.T, id string, admin bool) domain.CurrentUser {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.users.Create(ctx, &domain.User{ID: id, Email: id + "@example.com", CreatedAt: e.clock.Now()}))
	if admin {
		require.NoError(t, e.admins.Grant(ctx, id, e.clock.Now()))
	}
	return domain.CurrentUser{ID: id, Email: id + "@example.com", IsAdmin: admin}
}

func (e *testEnv) group(t *testing.T, creator domain.CurrentUser, name string, members ...domain.CurrentUser) {
	t.Helper()
	ctx := context.Background()
	_, err := e.groups.CreateGroup(ctx, creator, name)
	require.NoError(t, err)
	for _, m := range members {
		require.NoError(t, e.groups.AddMember(ctx, creator, name, m.ID))
	}
}

// writeFile пишет файл в живое дерево в обход движка
func (e *testEnv) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	require.NoError(t, e.live.MkdirAll(sandbox.Parent(rel)))
	abs, err := e.live.Resolve(rel)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(e.live.Fs(), abs, []byte(content), 0o644))
}

func (e *testEnv) readFile(t *testing.T, rel string) string {
	t.Helper()
	abs, err := e.live.Resolve(rel)
	require.NoError(t, err)
	data, err := afero.ReadFile(e.live.Fs(), abs)
	require.NoError(t, err)
	return string(data)
}

func (e *testEnv) exists(t *testing.T, box *sandbox.Sandbox, rel string) bool {
	t.Helper()
	ok, err := box.Exists(rel)
	require.NoError(t, err)
	return ok
}

func fileNames(l *domain.Listing) []string {
	names := make([]string, 0, len(l.Files))
	for _, f := range l.Files {
		names = append(names, f.Name)
	}
	return names
}

func folderNames(l *domain.Listing) []string {
	names := make([]string, 0, len(l.Folders))
	for _, f := range l.Folders {
		names = append(names, f.Name)
	}
	return names
}

func fullPaths(l *domain.Listing) []string {
	var paths []string
	for _, f := range l.Folders {
		paths = append(paths, f.FullPath+"/")
	}
	for _, f := range l.Files {
		paths = append(paths, f.FullPath)
	}
	return paths
}
