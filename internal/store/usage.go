package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	fnerrors "github.com/fieldnote-crm/fieldnote/internal/errors"
	"github.com/fieldnote-crm/fieldnote/pkg/entitlements"
)

// CountUsage returns the number of live rows of kind owned by orgID.
// Members count while active; projects and templates until soft-deleted.
func (s *Store) CountUsage(ctx context.Context, orgID string, kind entitlements.ResourceKind) (int, error) {
	var query string
	var args []any
	switch kind {
	case entitlements.ResourceUsers:
		query = `SELECT COUNT(*) FROM members WHERE organization_id = ? AND status = ?`
		args = []any{orgID, string(MemberActive)}
	case entitlements.ResourceProjects:
		query = `SELECT COUNT(*) FROM projects WHERE organization_id = ? AND deleted_at IS NULL`
		args = []any{orgID}
	case entitlements.ResourceTemplates:
		query = `SELECT COUNT(*) FROM templates WHERE organization_id = ? AND deleted_at IS NULL`
		args = []any{orgID}
	default:
		return 0, fnerrors.Invalidf("unknown resource kind %q", kind)
	}

	var n int
	if err := s.queryRow(ctx, s.db, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

// UsageSnapshot counts every resource kind for orgID.
func (s *Store) UsageSnapshot(ctx context.Context, orgID string) (entitlements.UsageSnapshot, error) {
	var snap entitlements.UsageSnapshot
	g, gctx := errgroup.WithContext(ctx)
	targets := map[entitlements.ResourceKind]*int{
		entitlements.ResourceProjects:  &snap.Projects,
		entitlements.ResourceUsers:     &snap.Users,
		entitlements.ResourceTemplates: &snap.Templates,
	}
	for kind, dst := range targets {
		g.Go(func() error {
			n, err := s.CountUsage(gctx, orgID, kind)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return entitlements.UsageSnapshot{}, err
	}
	return snap, nil
}

// CreateMember adds an active member to an organization.
func (s *Store) CreateMember(ctx context.Context, m *Member) error {
	if m == nil {
		return fmt.Errorf("member is nil")
	}
	m.Email = strings.ToLower(strings.TrimSpace(m.Email))
	if m.OrganizationID == "" || m.Email == "" {
		return fnerrors.Invalidf("member organization and email are required")
	}
	if m.Role == "" {
		m.Role = "member"
	}
	m.ID = newID("mem")
	m.Status = MemberActive
	now := nowFn()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.exec(ctx, s.db, `INSERT INTO members
		(id, organization_id, email, role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OrganizationID, m.Email, m.Role, string(m.Status), now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

// RemoveMember soft-deletes an active member.
func (s *Store) RemoveMember(ctx context.Context, orgID, memberID string) error {
	res, err := s.exec(ctx, s.db, `UPDATE members SET status = ?, updated_at = ?
		WHERE id = ? AND organization_id = ? AND status = ?`,
		string(MemberRemoved), nowFn().Unix(), memberID, orgID, string(MemberActive))
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("remove member %q: %w", memberID, fnerrors.ErrNotFound)
	}
	return nil
}

// CreateProject adds a project to an organization.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p == nil {
		return fmt.Errorf("project is nil")
	}
	id, createdAt, err := s.createNamed(ctx, "projects", "prj", p.OrganizationID, p.Name)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	p.ID, p.CreatedAt = id, createdAt
	return nil
}

// DeleteProject soft-deletes a project.
func (s *Store) DeleteProject(ctx context.Context, orgID, projectID string) error {
	if err := s.softDelete(ctx, "projects", orgID, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// CreateTemplate adds a template to an organization.
func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	if t == nil {
		return fmt.Errorf("template is nil")
	}
	id, createdAt, err := s.createNamed(ctx, "templates", "tpl", t.OrganizationID, t.Name)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	t.ID, t.CreatedAt = id, createdAt
	return nil
}

// DeleteTemplate soft-deletes a template.
func (s *Store) DeleteTemplate(ctx context.Context, orgID, templateID string) error {
	if err := s.softDelete(ctx, "templates", orgID, templateID); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

// createNamed inserts a named row. table is always a package constant.
func (s *Store) createNamed(ctx context.Context, table, prefix, orgID, name string) (string, time.Time, error) {
	name = strings.TrimSpace(name)
	if orgID == "" || name == "" {
		return "", time.Time{}, fnerrors.Invalidf("organization and name are required")
	}
	id := newID(prefix)
	now := nowFn()
	_, err := s.exec(ctx, s.db, `INSERT INTO `+table+` (id, organization_id, name, created_at)
		VALUES (?, ?, ?, ?)`, id, orgID, name, now.Unix())
	if err != nil {
		return "", time.Time{}, err
	}
	return id, now, nil
}

func (s *Store) softDelete(ctx context.Context, table, orgID, id string) error {
	res, err := s.exec(ctx, s.db, `UPDATE `+table+` SET deleted_at = ?
		WHERE id = ? AND organization_id = ? AND deleted_at IS NULL`, nowFn().Unix(), id, orgID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%s %q: %w", strings.TrimSuffix(table, "s"), id, fnerrors.ErrNotFound)
	}
	return nil
}
