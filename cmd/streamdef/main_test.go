package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "definitions.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIDCommand(t *testing.T) {
	t.Run("derives the id", func(t *testing.T) {
		out, err := run(t, "id", "Temperature", "1.0.0")

		require.NoError(t, err)
		assert.Equal(t, "Temperature-1.0.0\n", out)
	})

	t.Run("defaults the version", func(t *testing.T) {
		out, err := run(t, "id", "Temperature")

		require.NoError(t, err)
		assert.Equal(t, "Temperature-1.0.0\n", out)
	})

	t.Run("rejects malformed versions", func(t *testing.T) {
		_, err := run(t, "id", "Temperature", "1.0")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "x.x.x")
	})
}

func TestValidateCommand(t *testing.T) {
	t.Run("reports new and duplicate definitions", func(t *testing.T) {
		path := writeFile(t, `[
			{"name":"Temperature","version":"1.0.0","payloadData":[{"name":"celsius","type":"DOUBLE"}]},
			{"name":"Temperature","version":"1.0.0","nickName":"temp","payloadData":[{"name":"celsius","type":"DOUBLE"}]},
			{"name":"Humidity"}
		]`)

		out, err := run(t, "validate", path)

		require.NoError(t, err)
		assert.Equal(t, "OK         Temperature-1.0.0\nDUPLICATE  Temperature-1.0.0\nOK         Humidity-1.0.0\n", out)
	})

	t.Run("fails on conflicts", func(t *testing.T) {
		path := writeFile(t, `[
			{"name":"Temperature","payloadData":[{"name":"celsius","type":"DOUBLE"}]},
			{"name":"Temperature","payloadData":[{"name":"celsius","type":"FLOAT"}]}
		]`)

		out, err := run(t, "validate", path)

		require.Error(t, err)
		assert.Contains(t, out, "CONFLICT   Temperature-1.0.0")
		assert.Contains(t, err.Error(), "1 conflicting definitions")
	})

	t.Run("fails on malformed documents", func(t *testing.T) {
		path := writeFile(t, `{"name":"Temp-erature"}`)

		out, err := run(t, "validate", path)

		require.Error(t, err)
		assert.Contains(t, out, "MALFORMED  definition 0:")
		assert.Contains(t, out, "cannot contain '-'")
		assert.Contains(t, err.Error(), "1 malformed definitions")
	})

	t.Run("reports every malformed entry and checks the rest", func(t *testing.T) {
		path := writeFile(t, `[
			{"name":"Temp-erature"},
			{"name":"Temperature"},
			{"name":"Humidity","version":"1.0"},
			{"name":"Pressure","payloadData":[{"name":"hpa"}]},
			{"name":"Temperature","nickName":"temp"}
		]`)

		out, err := run(t, "validate", path)

		require.Error(t, err)
		assert.Contains(t, out, "MALFORMED  definition 0:")
		assert.Contains(t, out, "MALFORMED  definition 2:")
		assert.Contains(t, out, "MALFORMED  definition 3:")
		assert.Contains(t, out, "OK         Temperature-1.0.0\n")
		assert.Contains(t, out, "DUPLICATE  Temperature-1.0.0\n")
		assert.Contains(t, err.Error(), "3 malformed definitions")
	})

	t.Run("fails on documents that are not definitions", func(t *testing.T) {
		path := writeFile(t, `"Temperature"`)

		_, err := run(t, "validate", path)
		assert.Error(t, err)
	})

	t.Run("fails on missing files", func(t *testing.T) {
		_, err := run(t, "validate", filepath.Join(t.TempDir(), "missing.json"))
		assert.Error(t, err)
	})
}

func TestPublishCommandFlags(t *testing.T) {
	path := writeFile(t, `{"name":"Temperature"}`)

	_, err := run(t, "publish", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of --url or --nats")

	_, err = run(t, "publish", path, "--url", "amqp://localhost", "--nats", "nats://localhost")
	assert.Error(t, err)
}
