package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShadowPasswdStripsCryptPrefix(t *testing.T) {
	assert.Equal(t, "abc123hash", shadowPasswd("{CRYPT}abc123hash"))
}

func TestShadowPasswdDefaultsForNonCryptValues(t *testing.T) {
	assert.Equal(t, "!!", shadowPasswd(""))
	assert.Equal(t, "!!", shadowPasswd("{SSHA}somehash"))
	assert.Equal(t, "!!", shadowPasswd("plaintext"))
}
