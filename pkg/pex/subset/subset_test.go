// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package subset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/subset"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep425"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep440"
)

func mustVersion(t *testing.T, s string) pep440.Version {
	t.Helper()
	v, err := pep440.ParseVersion(s)
	require.NoError(t, err)
	return *v
}

func wheel(filename string) model.FileArtifact {
	return model.FileArtifact{Filename_: filename, IsWheel: true}
}

func resolveFixture(t *testing.T) model.LockedResolve {
	return model.LockedResolve{
		PlatformTag: "linux_x86_64",
		LockedRequirements: []model.LockedRequirement{
			{
				Pin:                model.Pin{ProjectName: model.NewProjectName("app"), Version: mustVersion(t, "1.0")},
				PrimaryArtifact:    wheel("app-1.0-py3-none-any.whl"),
				DirectDependencies: model.NewOrderedSet(`lib>=1.0; sys_platform == "linux"`, `winlib>=1.0; sys_platform == "win32"`),
			},
			{
				Pin:             model.Pin{ProjectName: model.NewProjectName("lib"), Version: mustVersion(t, "1.2")},
				PrimaryArtifact: wheel("lib-1.2-py3-none-any.whl"),
			},
			{
				Pin:             model.Pin{ProjectName: model.NewProjectName("winlib"), Version: mustVersion(t, "2.0")},
				PrimaryArtifact: wheel("winlib-2.0-py3-none-any.whl"),
			},
		},
	}
}

func targetFixture() model.DistributionTarget {
	return model.DistributionTarget{
		InterpreterIdentity: "cp39",
		PlatformIdentity:    "linux_x86_64",
		SupportedTags: []pep425.Tag{
			{Python: "py3", ABI: "none", Platform: "any"},
		},
		MarkerEnvironment: map[string]string{"sys_platform": "linux", "python_version": "3.9"},
	}
}

func TestSelectFollowsMarkerQualifiedDependencies(t *testing.T) {
	out, err := subset.Select(resolveFixture(t), targetFixture(), []string{"app"}, nil)
	require.NoError(t, err)

	names := make([]string, len(out))
	for i, da := range out {
		names[i] = da.Pin.ProjectName.String()
	}
	assert.Equal(t, []string{"app", "lib"}, names)
}

func TestSelectEnforcesConstraints(t *testing.T) {
	_, err := subset.Select(resolveFixture(t), targetFixture(), []string{"app"}, []string{"lib<1.0"})
	require.Error(t, err)
}

func TestSelectBestResolvePrefersLowerAverageRank(t *testing.T) {
	target := targetFixture()

	exact := model.LockedResolve{
		PlatformTag: "linux_x86_64",
		LockedRequirements: []model.LockedRequirement{
			{Pin: model.Pin{ProjectName: model.NewProjectName("app"), Version: mustVersion(t, "1.0")}, PrimaryArtifact: wheel("app-1.0-py3-none-any.whl")},
		},
	}
	sdistOnly := model.LockedResolve{
		PlatformTag: "linux_x86_64",
		LockedRequirements: []model.LockedRequirement{
			{Pin: model.Pin{ProjectName: model.NewProjectName("app"), Version: mustVersion(t, "1.0")}, PrimaryArtifact: model.FileArtifact{Filename_: "app-1.0.tar.gz"}},
		},
	}

	best, err := subset.SelectBestResolve([]model.LockedResolve{sdistOnly, exact}, target)
	require.NoError(t, err)
	assert.Equal(t, exact, best)
}

func TestSelectBestResolveSkipsUninstallableResolves(t *testing.T) {
	target := targetFixture()

	uninstallable := model.LockedResolve{
		PlatformTag: "win32",
		LockedRequirements: []model.LockedRequirement{
			{Pin: model.Pin{ProjectName: model.NewProjectName("app"), Version: mustVersion(t, "1.0")}, PrimaryArtifact: wheel("app-1.0-cp39-cp39-win_amd64.whl")},
		},
	}

	_, err := subset.SelectBestResolve([]model.LockedResolve{uninstallable}, target)
	require.ErrorIs(t, err, subset.ErrNoInstallableResolve)
}
