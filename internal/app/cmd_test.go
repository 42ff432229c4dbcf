package app

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCmd  Command
		wantRest []string
	}{
		{"引数なしはhelp", nil, CommandHelp, nil},
		{"whoami", []string{"whoami"}, CommandWhoami, []string{}},
		{"フラグを残りの引数として返す", []string{"leases", "--all"}, CommandLeases, []string{"--all"}},
		{"位置引数を残りの引数として返す", []string{"buy", "1", "10"}, CommandBuy, []string{"1", "10"}},
		{"ハイフン付きコマンド", []string{"register-property", "--title", "x"}, CommandRegisterProperty, []string{"--title", "x"}},
		{"--helpはhelp", []string{"--help"}, CommandHelp, []string{}},
		{"未知のコマンド", []string{"serve"}, CommandUnknown, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, rest := ParseCommand(tt.args)
			if cmd != tt.wantCmd {
				t.Errorf("cmd = %q, want %q", cmd, tt.wantCmd)
			}
			if len(rest) != len(tt.wantRest) || (len(rest) > 0 && !reflect.DeepEqual(rest, tt.wantRest)) {
				t.Errorf("rest = %v, want %v", rest, tt.wantRest)
			}
		})
	}
}

func TestCommand_NeedsSession(t *testing.T) {
	tests := []struct {
		cmd  Command
		want bool
	}{
		{CommandWhoami, true},
		{CommandWatch, true},
		{CommandBuy, true},
		{CommandMigrate, false},
		{CommandDevBackend, false},
		{CommandHelp, false},
	}

	for _, tt := range tests {
		if got := tt.cmd.needsSession(); got != tt.want {
			t.Errorf("%q.needsSession() = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}

func TestCommands_AllListedInUsage(t *testing.T) {
	for name, cmd := range commands {
		if cmd == CommandHelp {
			continue
		}
		if !strings.Contains(usage, name) {
			t.Errorf("usage does not mention %q", name)
		}
	}
}
