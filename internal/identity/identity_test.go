// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/chatsync/internal/config"
)

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Identity.UserID = "u1"
	cfg.Identity.Authenticated = true
	cfg.API.Token = "tok"

	p := FromConfig(cfg)
	id, ok := p.Current()
	assert.True(t, ok)
	assert.Equal(t, Identity{ID: "u1", Authenticated: true}, id)
	assert.False(t, p.Loading())
	assert.Equal(t, "tok", p.Token())
}

func TestStatic_Anonymous(t *testing.T) {
	_, ok := NewStatic(Identity{}, "").Current()
	assert.False(t, ok)
}

func TestSwitchable(t *testing.T) {
	p := NewSwitchable()
	assert.True(t, p.Loading())

	p.SignIn(Identity{ID: "a", Authenticated: true}, "ta")
	id, ok := p.Current()
	assert.True(t, ok)
	assert.Equal(t, "a", id.ID)
	assert.Equal(t, "ta", p.Token())
	assert.False(t, p.Loading())

	p.SignOut()
	_, ok = p.Current()
	assert.False(t, ok)
	assert.Equal(t, "", p.Token())
}

var (
	_ Provider = (*Static)(nil)
	_ Provider = (*Switchable)(nil)
)
