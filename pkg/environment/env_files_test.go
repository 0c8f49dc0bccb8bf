package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
KEY1=value1
export KEY2 = "quoted value"
KEY3='single'
EMPTY=
`), 0o600))

	pairs, err := ReadEnvFile(path)
	require.NoError(t, err)
	assert.Equal(t, []KeyValuePair{
		{Key: "KEY1", Value: "value1"},
		{Key: "KEY2", Value: "quoted value"},
		{Key: "KEY3", Value: "single"},
		{Key: "EMPTY", Value: ""},
	}, pairs)
}

func TestReadEnvFile_InvalidLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("NOT_A_PAIR\n"), 0o600))

	_, err := ReadEnvFile(path)
	require.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("AGENTGATEWAY_TEST_SET", "original")
	t.Setenv("AGENTGATEWAY_TEST_NEW", "")
	os.Unsetenv("AGENTGATEWAY_TEST_NEW")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AGENTGATEWAY_TEST_SET=overridden\nAGENTGATEWAY_TEST_NEW=new\n"), 0o600))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "original", os.Getenv("AGENTGATEWAY_TEST_SET"))
	assert.Equal(t, "new", os.Getenv("AGENTGATEWAY_TEST_NEW"))

	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
