package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupdrive/internal/domain"
)

func TestCreateGroup(t *testing.T) {
	env := newTestEnv(t)
	owner := env.user(t, "owner", false)
	ctx := context.Background()

	group, err := env.groups.CreateGroup(ctx, owner, "  Design:Team ")
	require.NoError(t, err)
	assert.Equal(t, "DesignTeam", group.Name)
	assert.True(t, env.exists(t, env.live, "groups/DesignTeam"))

	members, err := env.groups.Members(ctx, owner, "DesignTeam")
	require.NoError(t, err)
	assert.Equal(t, []string{owner.ID}, members)

	_, err = env.groups.CreateGroup(ctx, owner, "DesignTeam")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, env.exists(t, env.live, "groups/DesignTeam"), "existing folder must survive a failed create")

	_, err = env.groups.CreateGroup(ctx, owner, "..")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = env.groups.CreateGroup(ctx, domain.CurrentUser{ID: "ghost"}, "ghosts")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, env.exists(t, env.live, "groups/ghosts"))
}

func TestGroupMembership(t *testing.T) {
	env := newTestEnv(t)
	admin := env.user(t, "admin", true)
	owner := env.user(t, "owner", false)
	alice := env.user(t, "alice", false)
	bob := env.user(t, "bob", false)
	env.group(t, owner, "team")
	ctx := context.Background()

	require.NoError(t, env.groups.AddMember(ctx, owner, "team", alice.ID))
	assert.ErrorIs(t, env.groups.AddMember(ctx, alice, "team", bob.ID), domain.ErrForbidden)
	require.NoError(t, env.groups.AddMember(ctx, admin, "team", bob.ID))
	assert.ErrorIs(t, env.groups.AddMember(ctx, owner, "team", "ghost"), domain.ErrNotFound)
	assert.ErrorIs(t, env.groups.AddMember(ctx, owner, "nope", alice.ID), domain.ErrNotFound)

	ok, err := env.groups.HasUserAccessToGroup(ctx, bob.ID, "team")
	require.NoError(t, err)
	assert.True(t, ok)

	members, err := env.groups.Members(ctx, alice, "team")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{owner.ID, alice.ID, bob.ID}, members)
	outsider := env.user(t, "outsider", false)
	_, err = env.groups.Members(ctx, outsider, "team")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.groups.Members(ctx, admin, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, env.groups.RemoveMember(ctx, admin, "team", owner.ID), domain.ErrInvalidArgument)
	require.NoError(t, env.groups.RemoveMember(ctx, owner, "team", bob.ID))

	ok, err = env.groups.HasUserAccessToGroup(ctx, bob.ID, "team")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.groups.HasUserAccessToGroup(ctx, bob.ID, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.groups.HasUserAccessToGroup(ctx, "ghost", "team")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGroupFromPath(t *testing.T) {
	tests := []struct {
		path string
		name string
		ok   bool
	}{
		{"groups/team", "team", true},
		{"groups/team/a/b.txt", "team", true},
		{"groups", "", false},
		{"groups/", "", false},
		{"groupsx/team", "", false},
		{"other/groups/team", "", false},
	}
	for _, tt := range tests {
		name, ok := groupFromPath(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.name, name, tt.path)
	}
}
