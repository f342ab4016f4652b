package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"groupdrive/internal/domain"
	"groupdrive/internal/repository"
	"groupdrive/internal/sandbox"
)

// PermissionService вычисляет эффективные права на путь и управляет записями-переопределениями
type PermissionService struct {
	groups       *GroupService
	groupRepo    *repository.GroupRepository
	userRepo     *repository.UserRepository
	metadataRepo *repository.MetadataRepository
	live         *sandbox.Sandbox
	clock        Clock
	logger       *slog.Logger
}

func NewPermissionService(
	groups *GroupService,
	groupRepo *repository.GroupRepository,
	userRepo *repository.UserRepository,
	metadataRepo *repository.MetadataRepository,
	live *sandbox.Sandbox,
	clock Clock,
	logger *slog.Logger,
) *PermissionService {
	return &PermissionService{
		groups:       groups,
		groupRepo:    groupRepo,
		userRepo:     userRepo,
		metadataRepo: metadataRepo,
		live:         live,
		clock:        clock,
		logger:       logger.With("component", "PermissionService"),
	}
}

// accessSource данные, нужные для вычисления прав: состояние групп и записи-переопределения
type accessSource interface {
	// group возвращает существование группы и членство в ней принципала
	group(ctx context.Context, name string) (exists, member bool, err error)
	// override запись для точного пути: сначала пользовательская, затем групповая
	override(ctx context.Context, path string) (domain.AccessMode, bool, error)
}

// resolveAccess порядок правил: администратор, корень, папка groups, папки групп, переопределения.
// Дерево recovered/ повторяет живое дерево: значение по умолчанию берётся для пути без префикса.
func resolveAccess(ctx context.Context, principal domain.CurrentUser, path string, src accessSource) (domain.AccessMode, error) {
	if principal.IsAdmin {
		return domain.AccessAll, nil
	}
	if path == "" {
		return domain.AccessRead, nil
	}

	def, err := defaultAccess(ctx, recoveredMirror(path), src)
	if err != nil {
		return domain.AccessNone, err
	}
	if def < 0 {
		return domain.AccessNone, nil
	}

	mode, found, err := src.override(ctx, path)
	if err != nil {
		return domain.AccessNone, err
	}
	if found {
		def = mode
	}
	if path == domain.GroupsFolder {
		def &= domain.AccessRead
	}
	return def, nil
}

// defaultAccess права до учёта переопределений; -1 означает окончательный отказ
func defaultAccess(ctx context.Context, path string, src accessSource) (domain.AccessMode, error) {
	if path == "" || path == domain.GroupsFolder {
		return domain.AccessRead, nil
	}
	name, inGroup := groupFromPath(path)
	if !inGroup {
		return domain.AccessNone, nil
	}
	exists, member, err := src.group(ctx, name)
	if err != nil {
		return domain.AccessNone, err
	}
	switch {
	case !exists:
		return -1, nil
	case member:
		return domain.AccessAll, nil
	default:
		return domain.AccessNone, nil
	}
}

func recoveredMirror(path string) string {
	if path == domain.RecoveredPrefix {
		return ""
	}
	if rest, ok := strings.CutPrefix(path, domain.RecoveredPrefix+"/"); ok {
		return rest
	}
	return path
}

// EffectiveAccess права принципала на канонический путь относительно корня
func (s *PermissionService) EffectiveAccess(ctx context.Context, principal domain.CurrentUser, path string) (domain.AccessMode, error) {
	return resolveAccess(ctx, principal, path, &dbAccessSource{s: s, principal: principal})
}

// Require возвращает ErrForbidden, если у принципала нет всех битов want на path
func (s *PermissionService) Require(ctx context.Context, principal domain.CurrentUser, path string, want domain.AccessMode) error {
	mode, err := s.EffectiveAccess(ctx, principal, path)
	if err != nil {
		return err
	}
	if !mode.Has(want) {
		return fmt.Errorf("%w: %s requires %s on %q", domain.ErrForbidden, principal.ID, want, displayPath(path))
	}
	return nil
}

// dbAccessSource читает данные из базы при каждом вызове
type dbAccessSource struct {
	s         *PermissionService
	principal domain.CurrentUser

	groupIDs []int64
	loaded   bool
}

func (d *dbAccessSource) group(ctx context.Context, name string) (bool, bool, error) {
	member, err := d.s.groups.HasUserAccessToGroup(ctx, d.principal.ID, name)
	if err != nil {
		return false, false, err
	}
	if member {
		return true, true, nil
	}
	if _, err := d.s.groupRepo.GetByName(ctx, name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, false, nil
		}
		return false, false, err
	}
	return true, false, nil
}

func (d *dbAccessSource) override(ctx context.Context, path string) (domain.AccessMode, bool, error) {
	var rows []domain.Metadata
	for _, kind := range []domain.MetadataKind{domain.KindDirectory, domain.KindFile} {
		r, err := d.s.metadataRepo.ListByPath(ctx, kind, path)
		if err != nil {
			return 0, false, err
		}
		rows = append(rows, r...)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	if !d.loaded {
		groups, err := d.s.groupRepo.ListByUser(ctx, d.principal.ID)
		if err != nil {
			return 0, false, err
		}
		for _, g := range groups {
			d.groupIDs = append(d.groupIDs, g.ID)
		}
		d.loaded = true
	}
	mode, found := pickOverride(rows, d.principal.ID, d.groupIDs)
	return mode, found, nil
}

// pickOverride пользовательская запись важнее групповой; среди групп берётся первая по порядку строк
func pickOverride(rows []domain.Metadata, userID string, groupIDs []int64) (domain.AccessMode, bool) {
	for _, r := range rows {
		if r.UserID.Valid && r.UserID.String == userID {
			return r.Mode, true
		}
	}
	for _, r := range rows {
		if r.UserID.Valid || !r.GroupID.Valid {
			continue
		}
		for _, id := range groupIDs {
			if r.GroupID.Int64 == id {
				return r.Mode, true
			}
		}
	}
	return 0, false
}

// AccessSnapshot индекс прав принципала, загружаемый один раз для обхода каталога
type AccessSnapshot struct {
	principal domain.CurrentUser
	groups    map[string]bool // имя группы -> принципал участник
	groupIDs  []int64
	overrides map[string][]domain.Metadata
}

// Snapshot загружает группы и переопределения принципала в память
func (s *PermissionService) Snapshot(ctx context.Context, principal domain.CurrentUser) (*AccessSnapshot, error) {
	snap := &AccessSnapshot{principal: principal}
	if principal.IsAdmin {
		return snap, nil
	}
	if _, err := s.userRepo.GetByID(ctx, principal.ID); err != nil {
		return nil, err
	}

	all, err := s.groupRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	mine, err := s.groupRepo.ListByUser(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	snap.groups = make(map[string]bool, len(all))
	for _, g := range all {
		snap.groups[g.Name] = false
	}
	for _, g := range mine {
		snap.groups[g.Name] = true
		snap.groupIDs = append(snap.groupIDs, g.ID)
	}

	rows, err := s.metadataRepo.ListForSubjects(ctx, principal.ID, snap.groupIDs)
	if err != nil {
		return nil, err
	}
	snap.overrides = make(map[string][]domain.Metadata, len(rows))
	for _, r := range rows {
		snap.overrides[r.Path] = append(snap.overrides[r.Path], r)
	}
	return snap, nil
}

// EffectiveAccess права по снимку без обращений к базе
func (a *AccessSnapshot) EffectiveAccess(path string) domain.AccessMode {
	mode, _ := resolveAccess(context.Background(), a.principal, path, a)
	return mode
}

// overrideBelow есть ли у принципала переопределения строго внутри dir
func (a *AccessSnapshot) overrideBelow(dir string) bool {
	prefix := dir + "/"
	if dir == "" {
		prefix = ""
	}
	for p := range a.overrides {
		if strings.HasPrefix(p, prefix) && p != dir {
			return true
		}
	}
	return false
}

func (a *AccessSnapshot) group(_ context.Context, name string) (bool, bool, error) {
	member, exists := a.groups[name]
	return exists, member, nil
}

func (a *AccessSnapshot) override(_ context.Context, path string) (domain.AccessMode, bool, error) {
	mode, found := pickOverride(a.overrides[path], a.principal.ID, a.groupIDs)
	return mode, found, nil
}

// Subject пользователь или группа, к которым относится переопределение
type Subject struct {
	UserID    string
	GroupName string
}

func (s Subject) String() string {
	if s.UserID != "" {
		return "user:" + s.UserID
	}
	return "group:" + s.GroupName
}

// SetOverride задаёт права субъекта на точный путь. Только для администраторов.
func (s *PermissionService) SetOverride(ctx context.Context, actor domain.CurrentUser, kind domain.MetadataKind, path string, subject Subject, mode domain.AccessMode) (*domain.Metadata, error) {
	row, err := s.overrideRow(ctx, actor, kind, path, subject)
	if err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: invalid mode %d", domain.ErrInvalidArgument, mode)
	}
	if row.Path == domain.GroupsFolder && mode&^domain.AccessRead != 0 {
		return nil, fmt.Errorf("%w: only READ can be granted on %s", domain.ErrProtectedPath, domain.GroupsFolder)
	}
	row.Mode = mode
	row.CreatedAt = s.clock.Now()
	if err := s.metadataRepo.Upsert(ctx, row); err != nil {
		return nil, err
	}
	s.logger.Info("override set", "path", row.Path, "kind", kind, "subject", subject.String(), "mode", mode.String(), "actor", actor.ID)
	return row, nil
}

// ClearOverride удаляет переопределение субъекта на пути
func (s *PermissionService) ClearOverride(ctx context.Context, actor domain.CurrentUser, kind domain.MetadataKind, path string, subject Subject) error {
	row, err := s.overrideRow(ctx, actor, kind, path, subject)
	if err != nil {
		return err
	}
	removed, err := s.metadataRepo.DeleteSubject(ctx, kind, row.Path, row.UserID, row.GroupID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: no override for %s on %q", domain.ErrNotFound, subject.String(), row.Path)
	}
	s.logger.Info("override cleared", "path", row.Path, "kind", kind, "subject", subject.String(), "actor", actor.ID)
	return nil
}

func (s *PermissionService) overrideRow(ctx context.Context, actor domain.CurrentUser, kind domain.MetadataKind, path string, subject Subject) (*domain.Metadata, error) {
	if !actor.IsAdmin {
		return nil, fmt.Errorf("%w: only administrators manage overrides", domain.ErrForbidden)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown metadata kind %q", domain.ErrInvalidArgument, kind)
	}
	rel, err := s.live.Clean(path)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, fmt.Errorf("%w: the storage root cannot carry overrides", domain.ErrInvalidArgument)
	}

	row := &domain.Metadata{Kind: kind, Path: rel}
	switch {
	case subject.UserID != "" && subject.GroupName != "":
		return nil, fmt.Errorf("%w: override subject is either a user or a group", domain.ErrInvalidArgument)
	case subject.UserID != "":
		if _, err := s.userRepo.GetByID(ctx, subject.UserID); err != nil {
			return nil, err
		}
		row.UserID = sql.NullString{String: subject.UserID, Valid: true}
	case subject.GroupName != "":
		group, err := s.groupRepo.GetByName(ctx, subject.GroupName)
		if err != nil {
			return nil, err
		}
		row.GroupID = sql.NullInt64{Int64: group.ID, Valid: true}
	default:
		return nil, fmt.Errorf("%w: override subject is required", domain.ErrInvalidArgument)
	}
	return row, nil
}

func displayPath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
