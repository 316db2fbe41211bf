package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nsscache/nsscache-go/internal/nsserror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSSHKeyMapAbortsWhenPathUnset(t *testing.T) {
	s := NewSCIMSource(Config{Options: map[string]string{"base_url": "http://example.invalid"}})
	_, err := s.GetSSHKeyMap(context.Background(), time.Time{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, nsserror.ErrConfigurationError))
}

func TestGetGroupMapAbortsWhenGidPathClearedByOverride(t *testing.T) {
	s := NewSCIMSource(Config{Options: map[string]string{"scim_group_path_gid": ""}})
	_, err := s.GetGroupMap(context.Background(), time.Time{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, nsserror.ErrConfigurationError))
}

func TestNewSCIMSourceDefaultPasswdPathsSatisfyRequiredCheck(t *testing.T) {
	s := NewSCIMSource(Config{})
	require.NoError(t, requireScimPaths(s.passwdPaths, passwdRequiredPaths, "scim_path_", "passwd"))
}
