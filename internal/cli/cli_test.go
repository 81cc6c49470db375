package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--log-level", "silent"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// rows returns the whitespace-split fields of each output line.
func rows(out string) map[string][]string {
	m := make(map[string][]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		f := strings.Fields(line)
		if len(f) > 0 {
			m[f[0]] = f[1:]
		}
	}
	return m
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "chanhub")
}

func TestChannelsList(t *testing.T) {
	path := writeConfig(t, `
channels:
  telegram:
    token: "123:abc"
`)
	out, err := run(t, "--config", path, "channels", "list")
	require.NoError(t, err)

	r := rows(out)
	assert.Equal(t, []string{"yes"}, r["telegram"])
	for _, name := range []string{"discord", "slack", "irc", "email", "qq"} {
		assert.Equal(t, []string{"no"}, r[name], name)
	}
}

func TestChannelsDoctor_NoChannels(t *testing.T) {
	path := writeConfig(t, "responder:\n  mode: echo\n")
	out, err := run(t, "--config", path, "channels", "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "no channels configured")
}

func TestChannelsDoctor_Unhealthy(t *testing.T) {
	path := writeConfig(t, `
channels:
  irc:
    server: irc.invalid
    nick: hub
    channels: ["#ops"]
  discord: {}
`)
	out, err := run(t, "--config", path, "channels", "doctor", "--timeout", "1s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 channels unhealthy")

	r := rows(out)
	require.Contains(t, r, "irc")
	assert.Equal(t, "no", r["irc"][0])
	assert.Contains(t, out, "Invalid configuration")
	assert.Contains(t, out, "channels.discord")
}

func TestConfigSetGetUnset(t *testing.T) {
	path := writeConfig(t, "")

	_, err := run(t, "--config", path, "config", "set", "channels.defaults.inboxCapacity", "500")
	require.NoError(t, err)

	out, err := run(t, "--config", path, "config", "get", "channels.defaults.inboxCapacity")
	require.NoError(t, err)
	assert.Equal(t, "500\n", out)

	out, err = run(t, "--config", path, "config", "get", "channels")
	require.NoError(t, err)
	assert.Contains(t, out, "inboxCapacity: 500")

	_, err = run(t, "--config", path, "config", "unset", "channels.defaults.inboxCapacity")
	require.NoError(t, err)
	_, err = run(t, "--config", path, "config", "get", "channels.defaults.inboxCapacity")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t, "responder:\n  mode: telepathy\n")
	out, err := run(t, "--config", path, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "responder.mode")

	path = writeConfig(t, "responder:\n  mode: none\n")
	out, err = run(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "config ok")
}

func TestConfigPath(t *testing.T) {
	path := writeConfig(t, "")
	out, err := run(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestMessageSend_UnknownChannel(t *testing.T) {
	path := writeConfig(t, "")
	_, err := run(t, "--config", path, "message", "send", "--channel", "telegram", "--to", "42", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel not found: telegram")
}

func TestMessageSend_InvalidChannelConfig(t *testing.T) {
	path := writeConfig(t, "channels:\n  qq:\n    appId: \"1\"\n")
	_, err := run(t, "--config", path, "message", "send", "-c", "qq", "-t", "chan", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "appSecret")
}

func TestMessageSend_IRCNeedsGateway(t *testing.T) {
	path := writeConfig(t, "channels:\n  irc:\n    server: irc.invalid\n    nick: hub\n")
	_, err := run(t, "--config", path, "message", "send", "-c", "irc", "-t", "#ops", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside a running gateway")
}

func TestStatusCmd(t *testing.T) {
	path := writeConfig(t, `
channels:
  slack:
    botToken: xoxb-1
    appToken: xapp-1
responder:
  mode: none
`)
	out, err := run(t, "--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Responder: mode=none")
	assert.Contains(t, out, "Channels:  slack")
	assert.Contains(t, out, "status API disabled")
}

func TestGatewayRun_ConfigError(t *testing.T) {
	path := writeConfig(t, "gateway:\n  bind: moon\n")
	_, err := run(t, "--config", path, "start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway.bind")
}
