package utils_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tulua/wacloud/utils"
)

func TestSecretEqual(t *testing.T) {
	assert.True(t, utils.SecretEqual("sesame", "sesame"))
	assert.False(t, utils.SecretEqual("sesame", "sesame "))
	assert.False(t, utils.SecretEqual("sesame", ""))
	assert.True(t, utils.SecretEqual("", ""))
}

func TestCleanString(t *testing.T) {
	assert.Equal(t, "Ahello", utils.CleanString("\x02\x41hello"))
	assert.Equal(t, "happy!", utils.CleanString("happy!"))
	assert.Equal(t, "Hello  There", utils.CleanString("Hello \x00 There"))
	assert.Equal(t, "Hello There", utils.CleanString("Hello There"))
	assert.Equal(t, "Hello z There", utils.CleanString("Hello \xc5z There"))
}

func TestBasePathForURL(t *testing.T) {
	test1, err := utils.BasePathForURL("https://example.com/test.pdf")
	assert.Equal(t, nil, err)
	assert.Equal(t, "test.pdf", test1)

	test2, err := utils.BasePathForURL("https://cdn.host.example.com/media/999/zz99/9999/da514731-4bed-428c-afb9-860dd94530cc.xlsx")
	assert.Equal(t, nil, err)
	assert.Equal(t, "da514731-4bed-428c-afb9-860dd94530cc.xlsx", test2)
}
