package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectHashIsStableTwelveHexChars(t *testing.T) {
	h1 := ProjectHash("/home/user/project")
	h2 := ProjectHash("/home/user/project")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 12)
	assert.NotEqual(t, h1, ProjectHash("/home/user/other"))
}

func TestDatabaseFilenameEmptyProject(t *testing.T) {
	assert.Equal(t, "claudia.db", DatabaseFilename(""))
	assert.Equal(t, ProjectHash("/p")+".db", DatabaseFilename("/p"))
}

func TestComputeDistance(t *testing.T) {
	assert.Equal(t, 0, ComputeDistance("same", "same"))
	assert.Equal(t, 1, ComputeDistance("jon", "john"))
	assert.Equal(t, 3, ComputeDistance("", "abc"))
}

func TestFuzzyMatch(t *testing.T) {
	assert.True(t, FuzzyMatch("sch", "Sarah Chen"))
	assert.True(t, FuzzyMatch("", "anything"))
	assert.False(t, FuzzyMatch("xyz", "Sarah Chen"))
}
