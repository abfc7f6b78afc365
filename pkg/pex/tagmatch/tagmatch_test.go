// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package tagmatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthagen/pantsbuild-pex/pkg/pex/model"
	"github.com/sthagen/pantsbuild-pex/pkg/pex/tagmatch"
	"github.com/sthagen/pantsbuild-pex/pkg/python/pep425"
)

func installer() pep425.Installer {
	return pep425.Installer{
		{Python: "cp39", ABI: "cp39", Platform: "manylinux_2_17_x86_64"},
		{Python: "cp39", ABI: "abi3", Platform: "manylinux_2_17_x86_64"},
		{Python: "py3", ABI: "none", Platform: "any"},
	}
}

func TestWheelTagExtraction(t *testing.T) {
	tag, ok := tagmatch.WheelTag("widget-1.0-cp39-cp39-manylinux_2_17_x86_64.whl")
	require.True(t, ok)
	assert.Equal(t, pep425.Tag{Python: "cp39", ABI: "cp39", Platform: "manylinux_2_17_x86_64"}, tag)

	tag, ok = tagmatch.WheelTag("widget-1.0-py3-none-any.whl")
	require.True(t, ok)
	assert.Equal(t, pep425.Tag{Python: "py3", ABI: "none", Platform: "any"}, tag)

	_, ok = tagmatch.WheelTag("widget-1.0.tar.gz")
	assert.False(t, ok)
}

func TestRankPrefersMostSpecificWheel(t *testing.T) {
	inst := installer()

	best := model.FileArtifact{Filename_: "widget-1.0-cp39-cp39-manylinux_2_17_x86_64.whl", IsWheel: true}
	worse := model.FileArtifact{Filename_: "widget-1.0-py3-none-any.whl", IsWheel: true}

	assert.Less(t, tagmatch.Rank(inst, best), tagmatch.Rank(inst, worse))
}

func TestRankSdistWorseThanAnyWheel(t *testing.T) {
	inst := installer()
	sdist := model.FileArtifact{Filename_: "widget-1.0.tar.gz", IsWheel: false}
	wheel := model.FileArtifact{Filename_: "widget-1.0-py3-none-any.whl", IsWheel: true}

	assert.Equal(t, len(inst), tagmatch.Rank(inst, sdist))
	assert.Less(t, tagmatch.Rank(inst, wheel), tagmatch.Rank(inst, sdist))
}

func TestRankUnsupportedWheelIsNoMatch(t *testing.T) {
	inst := installer()
	wheel := model.FileArtifact{Filename_: "widget-1.0-cp27-cp27mu-linux_x86_64.whl", IsWheel: true}
	assert.Equal(t, tagmatch.NoMatchRank, tagmatch.Rank(inst, wheel))
}

func TestBestPicksLowestRank(t *testing.T) {
	inst := installer()
	candidates := []model.Artifact{
		model.FileArtifact{Filename_: "widget-1.0.tar.gz"},
		model.FileArtifact{Filename_: "widget-1.0-py3-none-any.whl", IsWheel: true},
		model.FileArtifact{Filename_: "widget-1.0-cp39-cp39-manylinux_2_17_x86_64.whl", IsWheel: true},
	}
	best, _, ok := tagmatch.Best(inst, candidates)
	require.True(t, ok)
	assert.Equal(t, "widget-1.0-cp39-cp39-manylinux_2_17_x86_64.whl", best.Filename())
}
