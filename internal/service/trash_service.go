package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"groupdrive/internal/domain"
	"groupdrive/internal/metrics"
	"groupdrive/internal/repository"
	"groupdrive/internal/sandbox"
)

// SystemActor автор записей журнала для фоновой очистки корзины
const SystemActor = "system"

// Archiver сохраняет содержимое файла перед окончательным удалением из корзины
type Archiver interface {
	Archive(ctx context.Context, key string, content io.Reader) error
}

// TrashService мягкое удаление с версиями, восстановление и корзина
type TrashService struct {
	live         *sandbox.Sandbox
	shadow       *sandbox.Sandbox
	trashRepo    *repository.TrashRepository
	metadataRepo *repository.MetadataRepository
	historyRepo  *repository.WorkHistoryRepository
	groupRepo    *repository.GroupRepository
	perms        *PermissionService
	locker       *PathLocker
	archiver     Archiver
	clock        Clock
	metrics      metrics.EngineMetrics
	logger       *slog.Logger

	defaultRetention time.Duration
}

// NewTrashService archiver может быть nil: тогда файлы удаляются без архивации
func NewTrashService(
	live, shadow *sandbox.Sandbox,
	trashRepo *repository.TrashRepository,
	metadataRepo *repository.MetadataRepository,
	historyRepo *repository.WorkHistoryRepository,
	groupRepo *repository.GroupRepository,
	perms *PermissionService,
	locker *PathLocker,
	archiver Archiver,
	clock Clock,
	m metrics.EngineMetrics,
	logger *slog.Logger,
	defaultRetention time.Duration,
) *TrashService {
	return &TrashService{
		live:             live,
		shadow:           shadow,
		trashRepo:        trashRepo,
		metadataRepo:     metadataRepo,
		historyRepo:      historyRepo,
		groupRepo:        groupRepo,
		perms:            perms,
		locker:           locker,
		archiver:         archiver,
		clock:            clock,
		metrics:          m,
		logger:           logger.With("component", "TrashService"),
		defaultRetention: defaultRetention,
	}
}

// DeleteResult итог удаления. Для папок часть элементов может остаться на месте из-за прав.
type DeleteResult struct {
	Deleted        []domain.DeletedFile `json:"deleted"`
	RemovedFolders []string             `json:"removed_folders"`
	Skipped        []string             `json:"skipped"`
}

// RestoreResult куда в итоге восстановлен файл
type RestoreResult struct {
	ID         uuid.UUID `json:"id"`
	Path       string    `json:"path"`
	Redirected bool      `json:"redirected"`
	Renamed    bool      `json:"renamed"`
}

// Delete переносит файл или содержимое папки в теневое дерево
func (s *TrashService) Delete(ctx context.Context, principal domain.CurrentUser, path string) (_ *DeleteResult, err error) {
	defer func(started time.Time) { s.metrics.ObserveOperation("delete", started, err) }(time.Now())

	rel, err := s.live.Clean(path)
	if err != nil {
		return nil, err
	}
	if rel == "" || strings.EqualFold(rel, domain.GroupsFolder) {
		return nil, fmt.Errorf("%w: cannot delete %q", domain.ErrProtectedPath, displayPath(rel))
	}

	info, err := s.live.Stat(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, rel)
		}
		return nil, domain.Internal("stat delete target", err)
	}
	if err := s.perms.Require(ctx, principal, rel, domain.AccessDelete); err != nil {
		return nil, err
	}

	result := &DeleteResult{}
	if !info.IsDir() {
		record, err := s.deleteFile(ctx, principal, rel)
		if err != nil {
			return nil, err
		}
		result.Deleted = append(result.Deleted, *record)
		return result, nil
	}

	snap, err := s.perms.Snapshot(ctx, principal)
	if err != nil {
		return nil, err
	}
	if err := s.deleteFolder(ctx, principal, snap, rel, result); err != nil {
		return result, err
	}
	return result, nil
}

// deleteFile переносит один файл. Транзакция фиксируется только после успешного переноса.
func (s *TrashService) deleteFile(ctx context.Context, principal domain.CurrentUser, rel string) (*domain.DeletedFile, error) {
	unlock := s.locker.Lock(liveKey(rel))
	defer unlock()

	exists, err := s.live.Exists(rel)
	if err != nil {
		return nil, domain.Internal("stat file", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, rel)
	}

	now := s.clock.Now()
	tx, err := s.trashRepo.BeginTx(ctx)
	if err != nil {
		return nil, domain.Internal("begin transaction", err)
	}
	defer tx.Rollback()

	rows, err := s.metadataRepo.ListByPathTx(ctx, tx, domain.KindFile, rel)
	if err != nil {
		return nil, domain.Internal("load file metadata", err)
	}
	shadowRow, err := s.shadowMetadata(ctx, principal, rel, rows, now)
	if err != nil {
		return nil, err
	}

	maxVersion, err := s.trashRepo.MaxVersionTx(ctx, tx, rel)
	if err != nil {
		return nil, domain.Internal("compute version", err)
	}
	version := maxVersion + 1
	shadowRow.Path = ShadowPath(rel, version, now)
	if len(shadowRow.Path) > domain.MaxPathLength {
		return nil, fmt.Errorf("%w: shadow path longer than %d characters", domain.ErrInvalidArgument, domain.MaxPathLength)
	}

	if err := s.metadataRepo.CreateTx(ctx, tx, shadowRow, false); err != nil {
		return nil, domain.Internal("create shadow metadata", err)
	}
	record := &domain.DeletedFile{
		ID:             uuid.New(),
		FileMetadataID: shadowRow.ID,
		OriginalPath:   rel,
		Version:        version,
		WorkTime:       now,
	}
	if err := s.trashRepo.CreateTx(ctx, tx, record); err != nil {
		return nil, domain.Internal("create ledger record", err)
	}
	if err := s.metadataRepo.DeleteByPathTx(ctx, tx, domain.KindFile, rel); err != nil {
		return nil, domain.Internal("delete file metadata", err)
	}
	entry := &domain.WorkHistory{UserID: principal.ID, OperationType: domain.OperationDelete, Path: rel, Time: now}
	if err := s.historyRepo.AppendTx(ctx, tx, entry); err != nil {
		return nil, domain.Internal("record delete", err)
	}

	// Сначала переносим файл, затем фиксируем записи
	physical := shadowPhysical(shadowRow.Path)
	if err := sandbox.Move(s.live, rel, s.shadow, physical); err != nil {
		return nil, domain.Internal("move file to shadow tree", err)
	}
	if err := tx.Commit(); err != nil {
		s.undoMove(s.shadow, physical, s.live, rel)
		return nil, domain.Internal("commit delete", err)
	}

	s.logger.Info("file deleted", "path", rel, "version", version, "shadow", shadowRow.Path, "user", principal.ID)
	return record, nil
}

// shadowMetadata владелец, группа и права теневой записи: из прежних записей или по умолчанию
func (s *TrashService) shadowMetadata(ctx context.Context, principal domain.CurrentUser, rel string, rows []domain.Metadata, now time.Time) (*domain.Metadata, error) {
	row := &domain.Metadata{
		Kind:      domain.KindFile,
		UserID:    sql.NullString{String: principal.ID, Valid: true},
		Mode:      domain.AccessAll,
		CreatedAt: now,
	}
	if len(rows) > 0 {
		row.Mode = rows[0].Mode
	}
	for _, r := range rows {
		if r.UserID.Valid {
			row.UserID = r.UserID
			break
		}
	}
	for _, r := range rows {
		if !r.UserID.Valid && r.GroupID.Valid {
			row.GroupID = r.GroupID
			break
		}
	}
	if !row.GroupID.Valid {
		if name, ok := groupFromPath(rel); ok {
			group, err := s.groupRepo.GetByName(ctx, name)
			switch {
			case err == nil:
				row.GroupID = sql.NullInt64{Int64: group.ID, Valid: true}
			case !errors.Is(err, domain.ErrNotFound):
				return nil, domain.Internal("load group", err)
			}
		}
	}
	return row, nil
}

func (s *TrashService) deleteFolder(ctx context.Context, principal domain.CurrentUser, snap *AccessSnapshot, rel string, result *DeleteResult) error {
	names, err := s.live.ReadDirNames(rel)
	if err != nil {
		return domain.Internal("read directory", err)
	}

	for _, name := range names {
		child := sandbox.Join(rel, name)
		if strings.EqualFold(child, domain.GroupsFolder) {
			result.Skipped = append(result.Skipped, child)
			continue
		}
		info, err := s.live.Stat(child)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("skipping unreadable entry", "path", child, "error", err)
				result.Skipped = append(result.Skipped, child)
			}
			continue
		}
		if !snap.EffectiveAccess(child).Has(domain.AccessDelete) {
			result.Skipped = append(result.Skipped, child)
			continue
		}

		if info.IsDir() {
			if err := s.deleteFolder(ctx, principal, snap, child, result); err != nil {
				return err
			}
			continue
		}
		record, err := s.deleteFile(ctx, principal, child)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return err
		}
		result.Deleted = append(result.Deleted, *record)
	}

	// Папка удаляется только пустой
	left, err := s.live.ReadDirNames(rel)
	if err != nil {
		return domain.Internal("read directory", err)
	}
	if len(left) > 0 {
		return nil
	}

	tx, err := s.trashRepo.BeginTx(ctx)
	if err != nil {
		return domain.Internal("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := s.metadataRepo.DeleteTreeTx(ctx, tx, domain.KindDirectory, rel); err != nil {
		return domain.Internal("purge directory metadata", err)
	}
	entry := &domain.WorkHistory{UserID: principal.ID, OperationType: domain.OperationDelete, Path: rel, Time: s.clock.Now()}
	if err := s.historyRepo.AppendTx(ctx, tx, entry); err != nil {
		return domain.Internal("record folder delete", err)
	}
	if err := s.live.Remove(rel); err != nil {
		return domain.Internal("remove folder", err)
	}
	if err := tx.Commit(); err != nil {
		if mkErr := s.live.MkdirAll(rel); mkErr != nil {
			s.logger.Error("failed to recreate folder", "path", rel, "error", mkErr)
		}
		return domain.Internal("commit folder delete", err)
	}
	result.RemovedFolders = append(result.RemovedFolders, rel)
	return nil
}

// Restore возвращает удалённый файл на исходный путь, в recovered/ при отсутствии родителя
// или под именем _restored_v<n>, если путь занят
func (s *TrashService) Restore(ctx context.Context, principal domain.CurrentUser, id uuid.UUID) (_ *RestoreResult, err error) {
	defer func(started time.Time) { s.metrics.ObserveOperation("restore", started, err) }(time.Now())

	unlockLedger := s.locker.Lock(ledgerKey(id.String()))
	defer unlockLedger()

	record, shadowRow, err := s.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	original, _, _, err := ParseShadowPath(shadowRow.Path)
	if err != nil {
		return nil, domain.Internal("parse shadow path", err)
	}

	target := original
	redirected := false
	parentExists, err := s.live.Exists(sandbox.Parent(original))
	if err != nil {
		return nil, domain.Internal("stat restore parent", err)
	}
	if !parentExists {
		target = sandbox.Join(domain.RecoveredPrefix, original)
		redirected = true
	}

	if err := s.perms.Require(ctx, principal, target, domain.AccessCreate); err != nil {
		return nil, err
	}

	unlockTarget := s.locker.Lock(liveKey(target))
	defer unlockTarget()

	now := s.clock.Now()
	tx, err := s.trashRepo.BeginTx(ctx)
	if err != nil {
		return nil, domain.Internal("begin transaction", err)
	}
	defer tx.Rollback()

	final := target
	occupied, err := s.live.Exists(target)
	if err != nil {
		return nil, domain.Internal("stat restore target", err)
	}
	if occupied {
		n, err := s.nextRestoredVersion(ctx, tx, target)
		if err != nil {
			return nil, err
		}
		final = RestoredPath(target, n, now)
		unlockFinal := s.locker.Lock(liveKey(final))
		defer unlockFinal()
	}

	liveRow := &domain.Metadata{
		Kind:      domain.KindFile,
		Path:      final,
		UserID:    sql.NullString{String: principal.ID, Valid: true},
		GroupID:   shadowRow.GroupID,
		Mode:      shadowRow.Mode,
		CreatedAt: now,
	}
	if err := s.metadataRepo.CreateTx(ctx, tx, liveRow, true); err != nil {
		return nil, domain.Internal("create file metadata", err)
	}
	if err := s.trashRepo.DeleteTx(ctx, tx, record.ID); err != nil {
		return nil, domain.Internal("delete ledger record", err)
	}
	if err := s.metadataRepo.DeleteByIDTx(ctx, tx, domain.KindFile, shadowRow.ID); err != nil {
		return nil, domain.Internal("delete shadow metadata", err)
	}
	entry := &domain.WorkHistory{UserID: principal.ID, OperationType: domain.OperationRestore, Path: final, Time: now}
	if err := s.historyRepo.AppendTx(ctx, tx, entry); err != nil {
		return nil, domain.Internal("record restore", err)
	}

	physical := shadowPhysical(shadowRow.Path)
	if err := sandbox.Move(s.shadow, physical, s.live, final); err != nil {
		return nil, domain.Internal("move file from shadow tree", err)
	}
	if err := tx.Commit(); err != nil {
		s.undoMove(s.live, final, s.shadow, physical)
		return nil, domain.Internal("commit restore", err)
	}
	s.pruneShadowDirs(sandbox.Parent(physical))

	s.logger.Info("file restored", "id", id, "path", final, "redirected", redirected, "user", principal.ID)
	return &RestoreResult{ID: id, Path: final, Redirected: redirected, Renamed: final != target}, nil
}

// nextRestoredVersion следующая версия _restored_v<n> по записям метаданных и файлам на диске
func (s *TrashService) nextRestoredVersion(ctx context.Context, tx *sqlx.Tx, target string) (int, error) {
	stem, _ := splitExt(target)
	paths, err := s.metadataRepo.ListPathsWithPrefixTx(ctx, tx, domain.KindFile, stem+"_restored_v")
	if err != nil {
		return 0, domain.Internal("list restored versions", err)
	}
	names, err := s.live.ReadDirNames(sandbox.Parent(target))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, domain.Internal("read restore directory", err)
	}
	candidates := paths
	for _, name := range names {
		candidates = append(candidates, sandbox.Join(sandbox.Parent(target), name))
	}
	return maxRestoredVersion(target, candidates) + 1, nil
}

func (s *TrashService) loadRecord(ctx context.Context, id uuid.UUID) (*domain.DeletedFile, *domain.Metadata, error) {
	record, err := s.trashRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, domain.Internal("load ledger record", err)
	}
	shadowRow, err := s.metadataRepo.GetByID(ctx, domain.KindFile, record.FileMetadataID)
	if err != nil {
		return nil, nil, domain.Internal(fmt.Sprintf("load shadow metadata of %s", id), err)
	}
	return record, shadowRow, nil
}

// ListDeleted элементы корзины: администратор видит все, остальные свои и своих групп
func (s *TrashService) ListDeleted(ctx context.Context, principal domain.CurrentUser) ([]domain.TrashItem, error) {
	var groupIDs []int64
	if !principal.IsAdmin {
		groups, err := s.groupRepo.ListByUser(ctx, principal.ID)
		if err != nil {
			return nil, domain.Internal("list groups", err)
		}
		for _, g := range groups {
			groupIDs = append(groupIDs, g.ID)
		}
	}
	items, err := s.trashRepo.ListItems(ctx, principal.ID, groupIDs, principal.IsAdmin)
	if err != nil {
		return nil, domain.Internal("list trash", err)
	}
	settings, err := s.trashRepo.ListSettings(ctx)
	if err != nil {
		return nil, domain.Internal("list trash settings", err)
	}
	for i := range items {
		items[i].ExpiresAt = items[i].DeletedAt.Add(s.retentionFor(items[i].OwnerID, settings))
	}
	return items, nil
}

// Purge окончательно удаляет элемент корзины. Доступно администратору и владельцу.
func (s *TrashService) Purge(ctx context.Context, principal domain.CurrentUser, id uuid.UUID) (err error) {
	defer func(started time.Time) { s.metrics.ObserveOperation("purge", started, err) }(time.Now())

	unlock := s.locker.Lock(ledgerKey(id.String()))
	defer unlock()

	record, shadowRow, err := s.loadRecord(ctx, id)
	if err != nil {
		return err
	}
	if !principal.IsAdmin && (!shadowRow.UserID.Valid || shadowRow.UserID.String != principal.ID) {
		return fmt.Errorf("%w: only the owner or an administrator can purge %s", domain.ErrForbidden, id)
	}
	if err := s.purge(ctx, principal.ID, record, shadowRow); err != nil {
		return err
	}
	s.metrics.ObservePurge(false)
	return nil
}

func (s *TrashService) purge(ctx context.Context, actor string, record *domain.DeletedFile, shadowRow *domain.Metadata) error {
	tx, err := s.trashRepo.BeginTx(ctx)
	if err != nil {
		return domain.Internal("begin transaction", err)
	}
	defer tx.Rollback()

	if err := s.trashRepo.DeleteTx(ctx, tx, record.ID); err != nil {
		return domain.Internal("delete ledger record", err)
	}
	if err := s.metadataRepo.DeleteByIDTx(ctx, tx, domain.KindFile, shadowRow.ID); err != nil {
		return domain.Internal("delete shadow metadata", err)
	}
	entry := &domain.WorkHistory{UserID: actor, OperationType: domain.OperationPurge, Path: record.OriginalPath, Time: s.clock.Now()}
	if err := s.historyRepo.AppendTx(ctx, tx, entry); err != nil {
		return domain.Internal("record purge", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Internal("commit purge", err)
	}

	// Оставшиеся байты без записи безвредны, поэтому удаляем их после фиксации
	physical := shadowPhysical(shadowRow.Path)
	if err := s.shadow.Remove(physical); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove purged file", "shadow", shadowRow.Path, "error", err)
	}
	s.pruneShadowDirs(sandbox.Parent(physical))
	s.logger.Info("trash item purged", "id", record.ID, "path", record.OriginalPath, "actor", actor)
	return nil
}

// AutoCleanup удаляет элементы, срок хранения которых истёк. Возвращает число удалённых.
func (s *TrashService) AutoCleanup(ctx context.Context) (purged int, err error) {
	defer func(started time.Time) { s.metrics.ObserveOperation("cleanup", started, err) }(time.Now())

	items, err := s.trashRepo.ListItems(ctx, "", nil, true)
	if err != nil {
		return 0, domain.Internal("list trash", err)
	}
	settings, err := s.trashRepo.ListSettings(ctx)
	if err != nil {
		return 0, domain.Internal("list trash settings", err)
	}

	now := s.clock.Now()
	var errs []error
	for _, item := range items {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if now.Before(item.DeletedAt.Add(s.retentionFor(item.OwnerID, settings))) {
			continue
		}
		if err := s.expire(ctx, item); err != nil {
			s.logger.Warn("failed to purge expired trash item", "id", item.ID, "path", item.OriginalPath, "error", err)
			errs = append(errs, err)
			continue
		}
		purged++
	}
	if purged > 0 {
		s.logger.Info("trash cleanup finished", "purged", purged)
	}
	return purged, errors.Join(errs...)
}

func (s *TrashService) expire(ctx context.Context, item domain.TrashItem) error {
	unlock := s.locker.Lock(ledgerKey(item.ID.String()))
	defer unlock()

	record, shadowRow, err := s.loadRecord(ctx, item.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	archived := false
	if s.archiver != nil {
		if err := s.archive(ctx, shadowRow.Path); err != nil {
			return err
		}
		archived = true
	}
	if err := s.purge(ctx, SystemActor, record, shadowRow); err != nil {
		return err
	}
	s.metrics.ObservePurge(archived)
	return nil
}

func (s *TrashService) archive(ctx context.Context, shadowPath string) error {
	f, err := s.shadow.Open(shadowPhysical(shadowPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("shadow file missing, nothing to archive", "shadow", shadowPath)
			return nil
		}
		return domain.Internal("open shadow file", err)
	}
	defer f.Close()

	if err := s.archiver.Archive(ctx, shadowPath, f); err != nil {
		return domain.Internal("archive shadow file", err)
	}
	return nil
}

// GetSettings настройки корзины владельца, значения по умолчанию если не задавались
func (s *TrashService) GetSettings(ctx context.Context, ownerID string) (*domain.TrashSettings, error) {
	settings, err := s.trashRepo.GetSettings(ctx, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.TrashSettings{OwnerID: ownerID, RetentionSeconds: int64(s.defaultRetention / time.Second)}, nil
		}
		return nil, domain.Internal("load trash settings", err)
	}
	return settings, nil
}

// UpdateRetentionPeriod задаёт срок хранения вида "720h". Менять можно свои настройки или любые для администратора.
func (s *TrashService) UpdateRetentionPeriod(ctx context.Context, actor domain.CurrentUser, ownerID, period string) (*domain.TrashSettings, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrInvalidArgument)
	}
	if !actor.IsAdmin && actor.ID != ownerID {
		return nil, fmt.Errorf("%w: cannot change trash settings of another user", domain.ErrForbidden)
	}

	// Проверяем корректность периода
	d, err := time.ParseDuration(period)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid retention period format: %v", domain.ErrInvalidArgument, err)
	}
	if d < time.Second {
		return nil, fmt.Errorf("%w: retention period must be at least one second", domain.ErrInvalidArgument)
	}

	settings := &domain.TrashSettings{OwnerID: ownerID, RetentionSeconds: int64(d / time.Second), UpdatedAt: s.clock.Now()}
	if err := s.trashRepo.UpdateSettings(ctx, settings); err != nil {
		return nil, domain.Internal("update trash settings", err)
	}
	return settings, nil
}

func (s *TrashService) retentionFor(owner sql.NullString, settings map[string]domain.TrashSettings) time.Duration {
	if owner.Valid {
		if st, ok := settings[owner.String]; ok {
			return st.RetentionPeriod()
		}
	}
	return s.defaultRetention
}

// undoMove возвращает файл на место после неудачной фиксации транзакции
func (s *TrashService) undoMove(from *sandbox.Sandbox, fromRel string, to *sandbox.Sandbox, toRel string) {
	if err := sandbox.Move(from, fromRel, to, toRel); err != nil {
		s.logger.Error("failed to roll back file move", "from", fromRel, "to", toRel, "error", err)
		return
	}
	s.logger.Warn("file move rolled back", "from", fromRel, "to", toRel)
}

// pruneShadowDirs удаляет опустевшие каталоги теневого дерева снизу вверх
func (s *TrashService) pruneShadowDirs(dir string) {
	for dir != "" {
		names, err := s.shadow.ReadDirNames(dir)
		if err != nil || len(names) > 0 {
			return
		}
		if err := s.shadow.Remove(dir); err != nil {
			s.logger.Warn("failed to prune shadow directory", "dir", dir, "error", err)
			return
		}
		dir = sandbox.Parent(dir)
	}
}
