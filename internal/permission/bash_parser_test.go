package permission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBashCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		names   []string
		subs    []string
	}{
		{"simple", "ls -la", []string{"ls"}, []string{""}},
		{"pipeline", "cat file.txt | grep pattern", []string{"cat", "grep"}, []string{"file.txt", "pattern"}},
		{"and chain", "git add . && git commit -m 'message'", []string{"git", "git"}, []string{"add", "commit"}},
		{"or chain", "test -f a || touch a", []string{"test", "touch"}, []string{"a", "a"}},
		{"semicolon", "echo hello; echo world", []string{"echo", "echo"}, []string{"hello", "world"}},
		{"redirect", "echo test > output.txt", []string{"echo"}, []string{"test"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commands, err := ParseBashCommand(tt.command)
			require.NoError(t, err)
			require.Len(t, commands, len(tt.names))
			for i, cmd := range commands {
				assert.Equal(t, tt.names[i], cmd.Name)
				assert.Equal(t, tt.subs[i], cmd.Subcommand)
			}
		})
	}
}

func TestParseBashCommand_QuotedAndSubstituted(t *testing.T) {
	commands, err := ParseBashCommand(`echo "hello world" 'single' $(pwd)`)
	require.NoError(t, err)

	var names []string
	for _, cmd := range commands {
		names = append(names, cmd.Name)
	}
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "pwd")
	assert.Contains(t, commands[0].Args, "hello world")
	assert.Contains(t, commands[0].Args, "single")
}

func TestParseBashCommand_Invalid(t *testing.T) {
	_, err := ParseBashCommand(`echo "unclosed`)
	assert.Error(t, err)
}

func TestExtractPaths(t *testing.T) {
	tests := []struct {
		name     string
		cmd      BashCommand
		expected []string
	}{
		{"rm with flags", BashCommand{Name: "rm", Args: []string{"-rf", "/tmp/test", "./local"}}, []string{"/tmp/test", "./local"}},
		{"chmod symbolic mode", BashCommand{Name: "chmod", Args: []string{"+x", "script.sh"}}, []string{"script.sh"}},
		{"chmod numeric mode", BashCommand{Name: "chmod", Args: []string{"755", "script.sh"}}, []string{"script.sh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractPaths(tt.cmd))
		})
	}
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, "/srv/app/data", ResolvePath("data", "/srv/app"))
	assert.Equal(t, "/srv/other", ResolvePath("../other", "/srv/app"))
	assert.Equal(t, "/etc/hosts", ResolvePath("/etc//hosts", "/srv/app"))
	assert.Equal(t, filepath.Join(home, "notes"), ResolvePath("~/notes", "/srv/app"))
}

func TestTouchedDirs(t *testing.T) {
	commands, err := ParseBashCommand("ls -la && rm -rf build ./build $HOME/x && mkdir /tmp/out")
	require.NoError(t, err)

	assert.Equal(t, []string{"/work/build", "/tmp/out"}, TouchedDirs(commands, "/work"))
}

func TestIsWithinDir(t *testing.T) {
	tests := []struct {
		path     string
		dir      string
		expected bool
	}{
		{"/home/user/project", "/home/user/project", true},
		{"/home/user/project/src/pkg/file.go", "/home/user/project", true},
		{"/home/user", "/home/user/project", false},
		{"/home/user/other", "/home/user/project", false},
		{"/home/user/project/..data", "/home/user/project", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, IsWithinDir(tt.path, tt.dir), "IsWithinDir(%s, %s)", tt.path, tt.dir)
	}
}
